package sandbox

import (
	"context"
	"path/filepath"
	"strings"

	"apex-build/internal/broker"
	"apex-build/internal/process"
)

// passthroughSandbox invokes the produced binary directly through the
// Process Runner, with no container-level isolation. Used when no
// container engine is configured (sandboxType=none) — still enforces the
// output cap and timeout, but not CPU/memory/network limits.
type passthroughSandbox struct{}

func (s *passthroughSandbox) Mode() Mode { return ModePassthrough }

func (s *passthroughSandbox) Execute(ctx context.Context, binaryDir, binaryName string, opts Options) (*broker.ExecResult, error) {
	res, err := process.Run(ctx, filepath.Join(binaryDir, binaryName), opts.Args, process.Options{
		Dir:       binaryDir,
		TimeoutMs: opts.TimeoutMs,
		MaxOutput: opts.MaxOutput,
		Stdin:     opts.Stdin,
	})
	if err != nil {
		return nil, err
	}
	return toExecResult(res), nil
}

func toExecResult(r *process.Result) *broker.ExecResult {
	return &broker.ExecResult{
		Stdout: linesFromText(r.Stdout),
		Stderr: linesFromText(r.Stderr),
		Status: r.Status,
		Signal: r.Signal,
	}
}

func linesFromText(s string) []broker.Line {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	parts := strings.Split(s, "\n")
	lines := make([]broker.Line, len(parts))
	for i, p := range parts {
		lines[i] = broker.Line{Text: p}
	}
	return lines
}
