package gateway

import (
	"sync"

	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

// call is one in-flight transport invocation. res and err are written once
// by the leader before done is closed; readers only look at them after
// <-done. Only the first finish takes effect.
type call struct {
	done chan struct{}
	once sync.Once

	res    llm.GenerationResult
	source Source
	usage  usage
	err    error
}

type usage struct {
	input, output int
}

func (c *call) finish(res llm.GenerationResult, src Source, u usage, err error) {
	c.once.Do(func() {
		c.res, c.source, c.usage, c.err = res, src, u, err
		close(c.done)
	})
}

// flightTable holds at most one call per cache key.
type flightTable struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newFlightTable() *flightTable {
	return &flightTable{calls: make(map[string]*call)}
}

// acquire joins the call registered under key, or registers a new one and
// reports leader=true. Exactly one concurrent caller per key becomes leader.
func (t *flightTable) acquire(key string) (c *call, leader bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.calls[key]; ok {
		return c, false
	}
	c = &call{done: make(chan struct{})}
	t.calls[key] = c
	return c, true
}

// release removes c from the table so the next caller for key starts fresh.
func (t *flightTable) release(key string, c *call) {
	t.mu.Lock()
	if t.calls[key] == c {
		delete(t.calls, key)
	}
	t.mu.Unlock()
}

func (t *flightTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
