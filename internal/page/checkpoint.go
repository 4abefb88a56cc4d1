package page

import "sync"

// Checkpoint is a readiness point of the page (head parsed, DOM interactive).
// Callbacks registered before the point is reached are queued and flushed exactly once,
// in registration order; callbacks registered afterwards run immediately.
type Checkpoint struct {
	name string

	mu      sync.Mutex
	reached bool
	pending []func()
}

func NewCheckpoint(name string) *Checkpoint {
	return &Checkpoint{name: name}
}

func (c *Checkpoint) Name() string { return c.name }

func (c *Checkpoint) When(fn func()) {
	c.mu.Lock()
	if !c.reached {
		c.pending = append(c.pending, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Reach marks the checkpoint and flushes the queue. Later calls are no-ops.
func (c *Checkpoint) Reach() {
	c.mu.Lock()
	if c.reached {
		c.mu.Unlock()
		return
	}
	c.reached = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (c *Checkpoint) Reached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reached
}
