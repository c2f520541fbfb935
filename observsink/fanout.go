package observsink

import (
	"context"
	"sync/atomic"
)

const defaultQueueDepth = 256

// FanOut dispatches one Event to multiple Sinks, each on its own
// goroutine-backed bounded queue so a slow sink (e.g. Postgres) never
// blocks the Dispatcher. Events dropped because a sink's queue is full
// increment that sink's overflow counter rather than blocking.
type FanOut struct {
	queues   []chan Event
	overflow []int64
	sinks    []Sink
}

// NewFanOut starts one worker goroutine per sink. Call Close to stop them.
func NewFanOut(sinks []Sink) *FanOut {
	f := &FanOut{
		sinks:    sinks,
		queues:   make([]chan Event, len(sinks)),
		overflow: make([]int64, len(sinks)),
	}
	for i, sink := range sinks {
		f.queues[i] = make(chan Event, defaultQueueDepth)
		go f.worker(i, sink)
	}
	return f
}

func (f *FanOut) worker(i int, sink Sink) {
	for ev := range f.queues[i] {
		sink.Emit(context.Background(), ev)
	}
}

// Emit enqueues ev on every sink's queue, dropping (and counting) on a
// full queue instead of blocking the caller.
func (f *FanOut) Emit(ev Event) {
	for i, q := range f.queues {
		select {
		case q <- ev:
		default:
			atomic.AddInt64(&f.overflow[i], 1)
		}
	}
}

// Overflow reports the number of dropped events per sink index, for
// admin/metrics visibility into sink backpressure.
func (f *FanOut) Overflow() []int64 {
	out := make([]int64, len(f.overflow))
	for i := range f.overflow {
		out[i] = atomic.LoadInt64(&f.overflow[i])
	}
	return out
}

// Close closes every sink queue and returns without waiting; each
// worker goroutine emits the events still queued and then exits.
func (f *FanOut) Close() {
	for _, q := range f.queues {
		close(q)
	}
}
