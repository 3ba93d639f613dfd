// Package timer provides the ticking half of the ride countdowns. The count
// itself lives with the lifecycle reducer; a Countdown only says "a second
// passed" until stopped.
package timer

import (
	"sync"
	"time"
)

// Countdown calls tick every interval on its own goroutine until Stop.
type Countdown struct {
	quit chan struct{}
	once sync.Once
	mu   sync.Mutex
	dead bool
}

// Start begins ticking immediately; the first tick arrives after one interval.
func Start(interval time.Duration, tick func()) *Countdown {
	c := &Countdown{quit: make(chan struct{})}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-c.quit:
				return
			case <-t.C:
				c.mu.Lock()
				if c.dead {
					c.mu.Unlock()
					return
				}
				c.mu.Unlock()
				tick()
			}
		}
	}()
	return c
}

// Stop is idempotent. Once it returns no new tick call begins.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()
		close(c.quit)
	})
}

// Stopped reports whether Stop has been called.
func (c *Countdown) Stopped() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}
