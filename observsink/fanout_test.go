package observsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	seen []Event
}

func (r *recordingSink) Emit(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type blockingSink struct{ release chan struct{} }

func (b *blockingSink) Emit(ctx context.Context, ev Event) { <-b.release }

func TestFanOutDeliversToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	f := NewFanOut([]Sink{a, b})
	defer f.Close()

	f.Emit(Event{Event: "dispatch"})

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, time.Millisecond)
}

func TestFanOutDropsAndCountsOverflowWithoutBlocking(t *testing.T) {
	block := &blockingSink{release: make(chan struct{})}
	defer close(block.release)
	f := NewFanOut([]Sink{block})
	defer f.Close()

	for i := 0; i < defaultQueueDepth+10; i++ {
		f.Emit(Event{Event: "dispatch"})
	}

	require.Greater(t, f.Overflow()[0], int64(0))
}
