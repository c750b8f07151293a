package datastream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// ReadMode selects the freshness contract of a read.
type ReadMode int

const (
	// ReadLatest returns the cached frame, blocking only until one exists.
	ReadLatest ReadMode = iota
	// ReadUnread returns the cached frame unless a read already consumed it,
	// in which case it waits for the next publish.
	ReadUnread
	// ReadNew always waits for a publish that happens after the call.
	ReadNew
)

func (m ReadMode) String() string {
	switch m {
	case ReadLatest:
		return "latest"
	case ReadUnread:
		return "unread"
	case ReadNew:
		return "new"
	}
	return "unknown"
}

// ParseReadMode parses the name of a read mode. The empty string is ReadNew.
func ParseReadMode(s string) (ReadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest":
		return ReadLatest, nil
	case "unread":
		return ReadUnread, nil
	case "new", "":
		return ReadNew, nil
	}
	return ReadNew, fmt.Errorf("datastream: unknown read mode %q", s)
}

// cache is the single-slot frame store shared by the acquisition loop and
// every reader. ready is true while readyCh is closed; readers wait on the
// channel so they can also select on their context.
type cache struct {
	mu sync.Mutex

	slot    mocap.Frame
	ready   bool
	readyCh chan struct{}
	gen     uint64
	// seq counts publishes. consumed is the seq of the last frame a read
	// returned; the slot is unread while they differ.
	seq      uint64
	consumed uint64
	// err is terminal until reset; waiters are released with it.
	err error

	// admitHook runs between admission and copy-out of an unread read.
	admitHook func()
}

func newCache() *cache {
	return &cache{readyCh: make(chan struct{})}
}

// publish stores f if gen is current. A frame decoded under an older
// filter generation is dropped.
func (c *cache) publish(f mocap.Frame, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil || gen != c.gen {
		return false
	}
	c.slot = f
	c.seq++
	if !c.ready {
		c.ready = true
		close(c.readyCh)
	}
	return true
}

func (c *cache) clearReadyLocked() {
	if c.ready {
		c.ready = false
		c.readyCh = make(chan struct{})
	}
}

// invalidate starts a new filter generation. Every read started afterwards
// waits for a frame published under it.
func (c *cache) invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.clearReadyLocked()
	return c.gen
}

func (c *cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// fail records a terminal error and wakes every waiter. The first error
// sticks until reset.
func (c *cache) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	if !c.ready {
		close(c.readyCh)
	}
}

// reset empties the slot for a new session.
func (c *cache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = mocap.Frame{}
	c.ready = false
	c.consumed = c.seq
	c.err = nil
	c.gen++
	c.readyCh = make(chan struct{})
}

// read copies the slot out under mode's contract. Unread readers admitted
// while the slot is unread all receive that frame, even if one of them
// finishes first; readers admitted after a completed read wait for the
// next publish.
func (c *cache) read(ctx context.Context, mode ReadMode) (mocap.Frame, error) {
	c.mu.Lock()
	switch mode {
	case ReadUnread:
		if c.consumed == c.seq {
			c.clearReadyLocked()
		}
	case ReadNew:
		c.clearReadyLocked()
	}

	for {
		if err := c.awaitLocked(ctx); err != nil {
			return mocap.Frame{}, err
		}
		if mode != ReadUnread {
			break
		}
		gen := c.gen
		hook := c.admitHook
		c.mu.Unlock()
		if hook != nil {
			hook()
		}
		c.mu.Lock()
		// A filter change after admission voids the admitted frame.
		if c.gen == gen {
			break
		}
	}

	f := c.slot.Clone()
	c.consumed = c.seq
	c.mu.Unlock()
	return f, nil
}

// awaitLocked waits for a ready slot. It returns with c.mu held on success
// and released on error.
func (c *cache) awaitLocked(ctx context.Context) error {
	for !c.ready {
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return err
		}
		ch := c.readyCh
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	return nil
}
