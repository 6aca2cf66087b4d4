package chat

import (
	"context"
	"sync"
	"time"
)

// compactionGate tracks in-flight compactions per (user, persona) so the next
// turn on the same key reads the summary they produce.
type compactionGate struct {
	mu      sync.Mutex
	pending map[string]*gateEntry
}

type gateEntry struct {
	n    int
	done chan struct{}
}

func newCompactionGate() *compactionGate {
	return &compactionGate{pending: make(map[string]*gateEntry)}
}

func gateKey(userID, persona string) string { return userID + "\x00" + persona }

// begin registers one in-flight compaction for key. The returned func must be
// called exactly once when it finishes.
func (g *compactionGate) begin(key string) func() {
	g.mu.Lock()
	e, ok := g.pending[key]
	if !ok {
		e = &gateEntry{done: make(chan struct{})}
		g.pending[key] = e
	}
	e.n++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			e.n--
			if e.n == 0 {
				close(e.done)
				delete(g.pending, key)
			}
		})
	}
}

// wait blocks until no compaction is in flight for key, timeout elapses or
// ctx ends. It reports whether the key became idle.
func (g *compactionGate) wait(ctx context.Context, key string, timeout time.Duration) bool {
	g.mu.Lock()
	e, ok := g.pending[key]
	g.mu.Unlock()
	if !ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
