package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex-build/internal/broker"
)

func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

func TestPassthroughSandboxExecute(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755))

	sb := New(ModePassthrough)
	res, err := sb.Execute(context.Background(), dir, "run.sh", Options{TimeoutMs: 1000, MaxOutput: 1024})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, 0, *res.Status)
	assert.Equal(t, []string{"hi"}, linesText(res.Stdout))
}

func TestDockerSandboxExecute(t *testing.T) {
	if !dockerAvailable() {
		t.Skip("docker not available in this environment")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755))

	sb := NewDockerSandbox()
	res, err := sb.Execute(context.Background(), dir, "run.sh", Options{TimeoutMs: 3000, MaxOutput: 1024})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, 0, *res.Status)
}

func linesText(lines []broker.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}
