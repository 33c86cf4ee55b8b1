package broker

import "errors"

// Sentinel errors the Orchestrator maps to HTTP status codes. Wrapped with
// %w by callers so the underlying diagnostic survives.
var (
	ErrUnknownCompiler   = errors.New("unknown compiler id")
	ErrForbiddenOption   = errors.New("forbidden compiler option")
	ErrForbiddenInclude  = errors.New("no absolute or relative includes please")
	ErrMalformedRequest  = errors.New("malformed compile request")
)
