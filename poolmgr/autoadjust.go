package poolmgr

import (
	"context"
	"math"
)

// StartAutoAdjust launches spec §4.7's auto-adjust loop: every T=60s,
// per pool, consult PoolStats and call Resize. This is a coarser,
// registry-wide complement to the pool's own internal 10s
// recycle/recommend-resize tick (spec §4.5.3) — the pool handles its
// own steady-state sizing locally; the manager widens MaxSize bounds
// across the fleet when a pool is visibly timing out acquisitions, and
// narrows them back when a pool is mostly idle, grounded on the same
// utilization-driven shape as the pool's own adaptive sizing rule.
func (m *Manager) StartAutoAdjust(ctx context.Context) {
	actx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.autoAdjustCancel = cancel
	m.autoAdjustDone = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.autoAdjustDone)
		for {
			select {
			case <-actx.Done():
				return
			case <-m.clock.Deadline(autoAdjustTickMS):
				m.autoAdjustTick()
			}
		}
	}()
}

func (m *Manager) autoAdjustTick() {
	for _, tp := range m.snapshot() {
		stats := tp.pool.Snapshot()
		cfg := tp.pool.Config()

		timedOutThisTick := stats.TotalTimeouts > tp.lastTimeouts
		tp.lastTimeouts = stats.TotalTimeouts

		switch {
		case timedOutThisTick:
			grown := cfg.MaxSize + int(math.Ceil(0.25*float64(cfg.MaxSize)))
			if grown > hardMaxSizeCap {
				grown = hardMaxSizeCap
			}
			if grown > cfg.MaxSize {
				tp.pool.Resize(cfg.MinSize, grown)
			}
		case stats.Active == 0 && cfg.MaxSize > cfg.MinSize:
			tp.pool.Resize(cfg.MinSize, cfg.MaxSize-1)
		}
	}
}
