package process

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_NormalExit(t *testing.T) {
	res, err := Run(context.Background(), "echo", []string{"hello"}, Options{Dir: os.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, 0, *res.Status)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.True(t, res.OkToCache)
	assert.False(t, res.Truncated)
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "exit 3"}, Options{Dir: os.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, 3, *res.Status)
	assert.True(t, res.OkToCache)
}

func TestRun_Timeout(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{
		Dir:       os.TempDir(),
		TimeoutMs: 50,
	})
	require.NoError(t, err)
	assert.False(t, res.OkToCache)
	assert.Contains(t, res.Stderr, "Killed - processing time exceeded")
}

func TestRun_OutputCap(t *testing.T) {
	res, err := Run(context.Background(), "sh", []string{"-c", "yes | head -c 1000000"}, Options{
		Dir:       os.TempDir(),
		MaxOutput: 100,
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Stdout, "[Truncated]")
}

func TestRun_SpawnFailureIsHardError(t *testing.T) {
	_, err := Run(context.Background(), "no-such-binary-xyz", nil, Options{Dir: os.TempDir()})
	assert.Error(t, err)
}
