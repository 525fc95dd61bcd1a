package registry

import (
	"context"
	"sync"
)

// Gate holds events back until it is opened. A source can be started
// before its snapshot is taken: changes that arrive while the snapshot is
// being applied are queued and delivered afterwards in arrival order.
type Gate struct {
	next Handler

	mu     sync.Mutex
	open   bool
	queued []queuedEvent
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewGate creates a closed gate in front of next.
func NewGate(next Handler) *Gate {
	return &Gate{next: next}
}

// Handle queues event while the gate is closed and forwards it otherwise.
func (g *Gate) Handle(ctx context.Context, event Event) {
	g.mu.Lock()
	if !g.open {
		g.queued = append(g.queued, queuedEvent{ctx: ctx, event: event})
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.next(ctx, event)
}

// Open delivers the queued events and lets later ones through. Events
// arriving during the flush wait for it to finish. It returns the number
// of queued events delivered.
func (g *Gate) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return 0
	}
	n := 0
	for _, q := range g.queued {
		if q.ctx.Err() != nil {
			continue
		}
		g.next(q.ctx, q.event)
		n++
	}
	g.queued = nil
	g.open = true
	return n
}

// Pending returns the number of queued events.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queued)
}
