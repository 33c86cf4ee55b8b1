// Package sandbox implements the Sandbox (C2) component: running a
// produced binary under resource limits, waiting, collecting logs, and
// tearing down — in either passthrough mode (direct Process Runner
// invocation, for environments with no container engine) or container
// mode (the recommended default).
package sandbox

import (
	"context"

	"apex-build/internal/broker"
)

// Mode selects how a Sandbox executes a binary.
type Mode string

const (
	ModeContainer   Mode = "docker"
	ModePassthrough Mode = "none"
)

// Options configures one sandboxed execution.
type Options struct {
	TimeoutMs int
	MaxOutput int
	Args      []string
	Stdin     []byte
}

// Sandbox runs a produced binary and returns its ExecResult. Every
// exit path — successful run, failed start, timed-out wait — releases
// any resources the implementation allocated (a container, a process
// group) before returning.
type Sandbox interface {
	Execute(ctx context.Context, binaryDir, binaryName string, opts Options) (*broker.ExecResult, error)
	Mode() Mode
}

// New returns the Sandbox implementation selected by mode. An unknown or
// empty mode falls back to passthrough, matching the spec's "sandboxType:
// docker or none" contract where none is the degrade-gracefully default.
func New(mode Mode) Sandbox {
	switch mode {
	case ModeContainer:
		return NewDockerSandbox()
	default:
		return &passthroughSandbox{}
	}
}
