package core

import (
	"context"
	"sync"
)

// InFlight tracks running calls so shutdown can wait for them.
type InFlight struct {
	mu      sync.Mutex
	running map[string]struct{}
	idle    chan struct{} // closed when the last running call finishes
}

// Add marks callID as running. Adding a running ID again is a no-op.
func (g *InFlight) Add(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[callID]; ok {
		return
	}
	if len(g.running) == 0 {
		g.idle = make(chan struct{})
	}
	g.running[callID] = struct{}{}
}

// Done marks callID as finished. Unknown IDs are ignored.
func (g *InFlight) Done(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[callID]; !ok {
		return
	}
	delete(g.running, callID)
	if len(g.running) == 0 {
		close(g.idle)
		g.idle = nil
	}
}

// Len returns the number of running calls.
func (g *InFlight) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// WaitAll blocks until no call is running or ctx is done.
func (g *InFlight) WaitAll(ctx context.Context) {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	if idle == nil {
		return
	}
	select {
	case <-idle:
	case <-ctx.Done():
	}
}
