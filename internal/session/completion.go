package session

import (
	"context"
	"sync"
)

// Completion is the settle-once signal returned by a flush.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) settle(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the flush reaches a terminal outcome.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Pending reports whether the flush is still in flight.
func (c *Completion) Pending() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Err returns the terminal error. It is nil while pending and after success.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the flush settles or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
