// Package poolmgr implements spec §4.7's Pool Manager: a process-wide
// registry of pools keyed by upstream, with lazy creation, an
// auto-adjust loop, and bounded concurrent draining.
//
// Grounded on Alfred's provider.Registry (sync.RWMutex-protected map,
// lazy Get/Register) generalized to lazily create *pool.Pool instead
// of looking up a preregistered Provider. The auto-adjust loop and
// bounded concurrent drain are grounded on provider.HealthPoller's
// ticker loop.
package poolmgr

import (
	"context"
	"sync"

	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/upstream"
)

const (
	autoAdjustTickMS  = 60_000
	maxParallelDrains = 16
	hardMaxSizeCap    = 10_000
)

// ConfigSource supplies a pool.Config per upstream, the "external
// system" collaborator spec §6 describes.
type ConfigSource interface {
	ConfigFor(ref upstream.Ref) pool.Config
}

// ConfigSourceFunc adapts a plain function to ConfigSource.
type ConfigSourceFunc func(ref upstream.Ref) pool.Config

func (f ConfigSourceFunc) ConfigFor(ref upstream.Ref) pool.Config { return f(ref) }

type trackedPool struct {
	pool          *pool.Pool
	lastTimeouts  int64
}

// Manager is the process-wide pool registry.
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*trackedPool
	closed bool

	factory      upstream.Factory
	configSource ConfigSource
	clock        clock.Clock

	// rootCtx is the manager's own lifetime context, not any one
	// caller's request context — pools' maintenance loops are started
	// against it so they outlive the HTTP/CLI call that happened to
	// trigger pool creation. Cancelled by Shutdown.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	autoAdjustCancel context.CancelFunc
	autoAdjustDone   chan struct{}
}

// New constructs a Manager. factory creates sessions for any upstream;
// configSource supplies per-upstream pool configuration.
func New(factory upstream.Factory, configSource ConfigSource, clk clock.Clock) *Manager {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Manager{
		pools:        make(map[string]*trackedPool),
		factory:      factory,
		configSource: configSource,
		clock:        clk,
		rootCtx:      rootCtx,
		rootCancel:   rootCancel,
	}
}

// GetOrCreate implements spec §4.7's lazy creation: the first
// acquisition request for an upstream creates its pool.
func (m *Manager) GetOrCreate(ctx context.Context, ref upstream.Ref) (*pool.Pool, error) {
	m.mu.RLock()
	if tp, ok := m.pools[ref.ID]; ok {
		m.mu.RUnlock()
		return tp.pool, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if tp, ok := m.pools[ref.ID]; ok {
		return tp.pool, nil
	}
	if m.closed {
		return nil, context.Canceled
	}

	cfg := m.configSource.ConfigFor(ref)
	p, err := pool.New(ref, cfg, m.factory, m.clock)
	if err != nil {
		return nil, err
	}
	// Use the manager's own lifetime, not ctx: ctx is the caller's
	// request context (e.g. an HTTP handler's r.Context()), which
	// net/http cancels as soon as that one request returns — the
	// maintenance loop must outlive it.
	p.StartMaintenance(m.rootCtx)
	m.pools[ref.ID] = &trackedPool{pool: p}
	return p, nil
}

// Reconfigure implements spec §4.7's pool replacement: a config change
// bumps generation by swapping in a brand-new *pool.Pool under the
// same registry key. Existing AcquisitionHandles from the old pool
// remain valid (they hold a direct reference to it, not a registry
// lookup) and are released normally; the old pool itself is drained in
// the background and force-closes any stragglers after drainMS.
func (m *Manager) Reconfigure(ctx context.Context, ref upstream.Ref, drainMS int64) (*pool.Pool, error) {
	cfg := m.configSource.ConfigFor(ref)
	next, err := pool.New(ref, cfg, m.factory, m.clock)
	if err != nil {
		return nil, err
	}
	next.StartMaintenance(m.rootCtx)

	m.mu.Lock()
	old, had := m.pools[ref.ID]
	m.pools[ref.ID] = &trackedPool{pool: next}
	m.mu.Unlock()

	if had {
		go old.pool.Shutdown(ctx, drainMS)
	}
	return next, nil
}

// Find looks up a pool already created for upstreamID, for admin
// introspection/resize endpoints. It never creates one — use
// GetOrCreate for that.
func (m *Manager) Find(upstreamID string) (*pool.Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.pools[upstreamID]
	if !ok {
		return nil, false
	}
	return tp.pool, true
}

// List returns every tracked upstream's pool, keyed by upstream ID, for
// admin enumeration (GET /admin/pools, "gatewayd pools").
func (m *Manager) List() map[string]*pool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*pool.Pool, len(m.pools))
	for id, tp := range m.pools {
		out[id] = tp.pool
	}
	return out
}

// snapshot returns the current set of tracked pools.
func (m *Manager) snapshot() []*trackedPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*trackedPool, 0, len(m.pools))
	for _, tp := range m.pools {
		out = append(out, tp)
	}
	return out
}

// Shutdown implements spec §4.7's draining: iterate pools and call
// Shutdown(drainMS) concurrently but bounded (max parallel = 16).
func (m *Manager) Shutdown(ctx context.Context, drainMS int64) {
	m.mu.Lock()
	m.closed = true
	if m.autoAdjustCancel != nil {
		m.autoAdjustCancel()
	}
	m.mu.Unlock()

	m.rootCancel()

	if m.autoAdjustDone != nil {
		<-m.autoAdjustDone
	}

	tracked := m.snapshot()
	sem := make(chan struct{}, maxParallelDrains)
	var wg sync.WaitGroup
	for _, tp := range tracked {
		tp := tp
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			tp.pool.Shutdown(ctx, drainMS)
		}()
	}
	wg.Wait()
}
