package pool

import (
	"context"
	"math"
)

const maintenanceTickMS = 10_000

// StartMaintenance launches the background maintenance loop from spec
// §4.5.3 (grounded on Alfred's provider.HealthPoller ticker shape):
// every 10s, close idle sessions past recycle_ms, top up to min_size,
// and apply the three-consecutive-tick adaptive sizing rule. Call
// Shutdown to stop it.
func (p *Pool) StartMaintenance(ctx context.Context) {
	mctx, cancel := context.WithCancel(ctx)
	p.cancelMaintenance = cancel
	p.maintenanceDone = make(chan struct{})

	go func() {
		defer close(p.maintenanceDone)
		p.runMaintenanceTick(mctx)
		for {
			select {
			case <-mctx.Done():
				return
			case <-p.clock.Deadline(maintenanceTickMS):
				p.runMaintenanceTick(mctx)
			}
		}
	}()
}

func (p *Pool) runMaintenanceTick(ctx context.Context) {
	p.recycleIdleAndTopUp(ctx)
	if p.cfg.AutoAdjust {
		p.adjustSize(ctx)
	}
}

func (p *Pool) recycleIdleAndTopUp(ctx context.Context) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}

	if p.cfg.RecycleMS > 0 {
		now := p.clock.NowMS()
		kept := p.available[:0]
		for _, e := range p.available {
			if now-e.createdAtMS >= p.cfg.RecycleMS {
				_ = e.sess.Close()
			} else {
				kept = append(kept, e)
			}
		}
		p.available = kept
	}

	target := p.cfg.MinSize
	p.mu.Unlock()

	p.topUpTo(ctx, target)
}

// topUpTo creates sessions until the pool has target alive (available +
// in_use), or a creation fails. Shared by recycleIdleAndTopUp's
// min_size top-up and adjustSize's grow step.
func (p *Pool) topUpTo(ctx context.Context, target int) {
	p.mu.Lock()
	need := target - p.aliveLocked()
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		sess, err := p.createWithRetries(ctx)
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			_ = sess.Close()
			return
		}
		e := p.newEntryLocked(sess)
		// Hands the freshly created session straight to the earliest
		// waiter, if any, rather than appending to available first
		// (see signalOneWaiterLocked).
		p.signalOneWaiterLocked(e)
		p.mu.Unlock()
	}
}

// adjustSize implements spec §4.5.3's adaptive sizing: if utilization >
// 0.8 for three consecutive ticks, grows the pool toward max_size by
// +ceil(0.25*max_size), provisioning the new sessions immediately; if <
// 0.2 and alive > min_size for three ticks, shrinks by 1, closing one
// idle session to match. cfg.Size tracks the resulting target (read
// back through Config(); Snapshot's PoolStats has no size field) while
// MinSize/MaxSize remain the hard bounds Acquire enforces.
func (p *Pool) adjustSize(ctx context.Context) {
	growTarget, shrink := p.computeSizeTargetLocked()
	if growTarget > 0 {
		p.topUpTo(ctx, growTarget)
	}
	if shrink {
		p.shrinkIdleBy(1)
	}
}

func (p *Pool) computeSizeTargetLocked() (growTarget int, shrink bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alive := p.aliveLocked()
	if alive == 0 || p.cfg.MaxSize == 0 {
		return 0, false
	}
	utilization := float64(len(p.inUse)) / float64(p.cfg.MaxSize)

	switch {
	case utilization > 0.8:
		p.highTicks++
		p.lowTicks = 0
	case utilization < 0.2 && alive > p.cfg.MinSize:
		p.lowTicks++
		p.highTicks = 0
	default:
		p.highTicks = 0
		p.lowTicks = 0
	}

	if p.highTicks >= 3 {
		grow := int(math.Ceil(0.25 * float64(p.cfg.MaxSize)))
		p.cfg.Size = alive + grow
		if p.cfg.Size > p.cfg.MaxSize {
			p.cfg.Size = p.cfg.MaxSize
		}
		p.highTicks = 0
		return p.cfg.Size, false
	}
	if p.lowTicks >= 3 {
		p.cfg.Size = alive - 1
		if p.cfg.Size < p.cfg.MinSize {
			p.cfg.Size = p.cfg.MinSize
		}
		p.lowTicks = 0
		return 0, true
	}
	return 0, false
}

// shrinkIdleBy closes up to n idle (available) sessions, leaving
// in-use sessions untouched.
func (p *Pool) shrinkIdleBy(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n && len(p.available) > 0; i++ {
		last := len(p.available) - 1
		e := p.available[last]
		p.available = p.available[:last]
		_ = e.sess.Close()
	}
}
