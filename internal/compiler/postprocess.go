package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"apex-build/internal/broker"
)

// runPostProcessPipeline streams the given bytes through an in-process
// pipeline of {command,args} stages, wiring stdout of one stage to stdin
// of the next — the safer re-architecture of the original's
// "bash -c cat out | stage1 | stage2" noted in the core spec's design
// notes, since it never invokes a shell. Each stage's output is cut to
// maxOutput bytes (with the size sentinel appended) after the stage
// exits; stages have no timeout of their own beyond ctx.
func runPostProcessPipeline(ctx context.Context, stages []broker.PostProcessStage, input []byte, maxOutput int) ([]byte, error) {
	data := input
	for _, stage := range stages {
		out, err := runOneStage(ctx, stage, data, maxOutput)
		if err != nil {
			return nil, fmt.Errorf("postprocess stage %s: %w", stage.Command, err)
		}
		data = out
	}
	return data, nil
}

func runOneStage(ctx context.Context, stage broker.PostProcessStage, input []byte, maxOutput int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, stage.Command, stage.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = os.TempDir()

	var out bytes.Buffer
	cmd.Stdout = &out
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w (stderr: %s)", err, errBuf.String())
	}
	b := out.Bytes()
	if maxOutput > 0 && len(b) > maxOutput {
		b = append(b[:maxOutput:maxOutput], []byte(asmTooLargeSentinel)...)
	}
	return b, nil
}

const asmTooLargeSentinel = "\n; Output truncated; exceeds max-asm-size"
