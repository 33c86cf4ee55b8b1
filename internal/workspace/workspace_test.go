package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesUniqueDirs(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, 0)
	require.NoError(t, err)

	h1, err := m.Acquire()
	require.NoError(t, err)
	h2, err := m.Acquire()
	require.NoError(t, err)

	assert.NotEqual(t, h1.Dir, h2.Dir)
	assert.DirExists(t, h1.Dir)
	assert.DirExists(t, h2.Dir)
	assert.Equal(t, filepath.Join(h1.Dir, InputFilename), h1.InputPath())
}

func TestSweepSkippedWhileInFlight(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, 1)
	require.NoError(t, err)

	h, err := m.Acquire()
	require.NoError(t, err)
	// Don't release — simulate an in-flight compile.
	h.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())

	m.sweep()
	assert.DirExists(t, h.Dir)
}

func TestSweepRemovesReleasedStaleDirs(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, 1)
	require.NoError(t, err)

	h, err := m.Acquire()
	require.NoError(t, err)
	m.ReleaseCompile(h)
	h.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())

	m.sweep()
	_, err = os.Stat(h.Dir)
	assert.True(t, os.IsNotExist(err))
}
