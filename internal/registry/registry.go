// Package registry implements the Compiler Registry (C4): it builds the
// compiler set from a colon-separated seed list, expanding groups and
// cross-toolchain paths, connecting to peer brokers and a cloud-instance
// registry, and maintains the live, atomically-published set of compiler
// descriptors the Compiler Driver and Orchestrator read.
package registry

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"apex-build/internal/broker"
	"apex-build/internal/brokerconfig"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
)

// Snapshot is an atomically-publishable compiler set: readers either see
// the full old set or the full new one, never a partial union.
type Snapshot struct {
	Descriptors []*broker.CompilerDescriptor
	ByID        map[string]*broker.CompilerDescriptor
}

func newSnapshot(descs []*broker.CompilerDescriptor) *Snapshot {
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	byID := make(map[string]*broker.CompilerDescriptor, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}
	return &Snapshot{Descriptors: descs, ByID: byID}
}

// Registry owns the published Snapshot and runs discovery / rescans.
type Registry struct {
	cfg        *brokerconfig.Config
	httpClient *http.Client

	current atomic.Pointer[Snapshot]

	stopCh chan struct{}
}

// New creates a Registry. Call Discover once synchronously during startup
// before serving requests — infrastructure-fault semantics (§7.6) say a
// registry that fails to initialize is fatal.
func New(cfg *brokerconfig.Config) *Registry {
	r := &Registry{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.ProxyTimeoutMs) * time.Millisecond,
		},
		stopCh: make(chan struct{}),
	}
	r.current.Store(newSnapshot(nil))
	return r
}

// Current returns the most recently published Snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Discover runs one full discovery pass (seed-list resolution +
// per-descriptor initialization) and publishes the result. It returns an
// error only for conditions the core spec treats as an infrastructure
// fault; individual dead peers, unresolvable groups, or compilers that
// fail initialization are logged and simply contribute nothing, per
// §4.4's "partial failure is tolerated" rule.
func (r *Registry) Discover(ctx context.Context) error {
	root := brokerconfig.RootGetter(r.cfg)
	descs := r.resolveSeedList(ctx, r.cfg.Compilers, root, "")
	descs = append(descs, r.discoverNDK()...)

	initialized := make([]*broker.CompilerDescriptor, 0, len(descs))
	for _, d := range descs {
		if d.IsRemote() {
			initialized = append(initialized, d)
			continue
		}
		if err := initializeDescriptor(ctx, d); err != nil {
			logging.L().Sugar().Warnw("registry: descriptor init failed, dropping", "id", d.ID, "err", err)
			continue
		}
		initialized = append(initialized, d)
	}

	next := newSnapshot(initialized)
	prev := r.current.Load()

	changed := !sameIDSet(prev, next)
	if changed {
		r.current.Store(next)
		logging.L().Sugar().Infow("registry: published new snapshot", "count", len(next.Descriptors))
	} else {
		logging.L().Sugar().Debugw("registry: rescan unchanged, snapshot not swapped", "count", len(next.Descriptors))
	}
	metrics.Get().RecordRegistryRescan(changed, len(next.Descriptors))
	return nil
}

// sameIDSet compares two snapshots by their sorted id lists — a cheap
// stand-in for a full serialized-set comparison that still satisfies the
// "if the serialized compiler set equals the previous publication, don't
// swap" rule for the common case (compilers appearing/disappearing).
func sameIDSet(a, b *Snapshot) bool {
	if a == nil || len(a.Descriptors) != len(b.Descriptors) {
		return false
	}
	for i, d := range a.Descriptors {
		if d.ID != b.Descriptors[i].ID {
			return false
		}
	}
	return true
}

// StartRescanTimer launches the background goroutine that re-runs
// Discover every rescanCompilerSecs. The timer never overlaps itself:
// a tick is skipped if the previous Discover is still running.
func (r *Registry) StartRescanTimer() {
	if r.cfg.RescanCompilerSecs <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(r.cfg.RescanCompilerSecs) * time.Second)
		defer ticker.Stop()
		var running atomic.Bool
		for {
			select {
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					continue
				}
				go func() {
					defer running.Store(false)
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
					defer cancel()
					if err := r.Discover(ctx); err != nil {
						logging.L().Sugar().Errorw("registry: rescan failed", "err", err)
					}
				}()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the rescan timer.
func (r *Registry) Stop() { close(r.stopCh) }
