// Package workspace implements the Workspace (C3) component: scratch
// directory allocation under a configured root, with a background
// sweeper that removes stale, unreferenced directories once the broker
// has been idle for a cleanup interval.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"apex-build/internal/logging"
)

const (
	InputFilename  = "example.c"
	OutputFilename = "output.s"
)

// Handle is a reference-counted release token for one scratch directory.
// The Result Cache holds a Handle for any entry whose OutputFilePath must
// stay on disk (binary downloads); the sweeper only removes directories
// whose refcount is zero. Retention depends on the refcount alone; the
// global in-flight count only makes the sweeper skip a whole pass.
type Handle struct {
	Dir string

	mgr      *Manager
	refcount int32
	lastUsed atomic.Int64
}

// Release drops one reference. When the refcount reaches zero the
// directory becomes eligible for the next sweep (it is not deleted
// synchronously — see the package invariant that workspaces must still be
// releasable by the sweeper on failure paths).
func (h *Handle) Release() {
	h.lastUsed.Store(time.Now().UnixNano())
	n := atomic.AddInt32(&h.refcount, -1)
	if n < 0 {
		atomic.StoreInt32(&h.refcount, 0)
	}
}

// Retain adds one reference, e.g. when the Result Cache decides to keep
// backing a binary download.
func (h *Handle) Retain() {
	atomic.AddInt32(&h.refcount, 1)
}

func (h *Handle) refs() int32 { return atomic.LoadInt32(&h.refcount) }

// InputPath returns the full path to the scratch directory's input file.
func (h *Handle) InputPath() string { return filepath.Join(h.Dir, InputFilename) }

// OutputPath returns the full path to the scratch directory's output file.
func (h *Handle) OutputPath() string { return filepath.Join(h.Dir, OutputFilename) }

// Manager allocates and garbage-collects scratch directories under Root.
type Manager struct {
	Root string

	mu      sync.Mutex
	handles map[string]*Handle

	inFlight atomic.Int32

	cleanupSecs int
	stopCh      chan struct{}
}

// NewManager creates a Manager rooted at root, creating it if necessary.
// cleanupSecs is the sweeper's firing interval (tempDirCleanupSecs).
func NewManager(root string, cleanupSecs int) (*Manager, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root %s: %w", root, err)
	}
	return &Manager{
		Root:        root,
		handles:     make(map[string]*Handle),
		cleanupSecs: cleanupSecs,
		stopCh:      make(chan struct{}),
	}, nil
}

// Acquire allocates a unique scratch directory and marks one compile as
// in-flight. Every call to Acquire must be matched by exactly one
// ReleaseCompile (from the component that drove the compile to
// completion, whatever the outcome); Handle.Release alone does not end
// the in-flight count.
func (m *Manager) Acquire() (*Handle, error) {
	m.inFlight.Add(1)
	name := uuid.NewString()
	dir := filepath.Join(m.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.inFlight.Add(-1)
		return nil, fmt.Errorf("workspace: mkdir %s: %w", dir, err)
	}
	h := &Handle{Dir: dir, mgr: m, refcount: 1}
	h.lastUsed.Store(time.Now().UnixNano())

	m.mu.Lock()
	m.handles[dir] = h
	m.mu.Unlock()

	return h, nil
}

// done is called once the in-flight compile using h has produced its
// final result, whether or not the workspace itself is retained.
func (m *Manager) done() {
	m.inFlight.Add(-1)
}

// ReleaseCompile should be called by the Compiler Driver once a compile
// finishes, regardless of outcome — it both releases the handle's initial
// reference and marks the in-flight compile as finished, so the sweeper's
// "no-one compiling" observation stays accurate even on error paths.
func (m *Manager) ReleaseCompile(h *Handle) {
	h.Release()
	m.done()
}

// StartSweeper launches the background goroutine that removes stale,
// zero-refcount directories every cleanupSecs, skipping a pass entirely
// whenever any compile is in flight.
func (m *Manager) StartSweeper() {
	if m.cleanupSecs <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(m.cleanupSecs) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper goroutine.
func (m *Manager) Stop() { close(m.stopCh) }

func (m *Manager) sweep() {
	if m.inFlight.Load() > 0 {
		logging.L().Sugar().Debug("workspace: sweep skipped, compile in flight")
		return
	}

	cutoff := time.Now().Add(-time.Duration(m.cleanupSecs) * time.Second).UnixNano()

	m.mu.Lock()
	var stale []string
	for dir, h := range m.handles {
		if h.refs() <= 0 && h.lastUsed.Load() < cutoff {
			stale = append(stale, dir)
		}
	}
	for _, dir := range stale {
		delete(m.handles, dir)
	}
	m.mu.Unlock()

	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			logging.L().Sugar().Warnw("workspace: sweep remove failed", "dir", dir, "err", err)
		}
	}
	if len(stale) > 0 {
		logging.L().Sugar().Infow("workspace: swept stale directories", "count", len(stale))
	}
}
