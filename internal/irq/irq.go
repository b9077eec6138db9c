// Package irq models interrupt delivery for a single-threaded control loop.
//
// Handlers raised from other goroutines (the "hardware") never run while the
// main loop holds the mask. They are latched and serviced the moment the mask
// is released, exactly like pending interrupts on a masked core. Suspend blocks
// with the mask held until something is raised, mirroring a wait-for-interrupt
// instruction executed inside a critical section.
package irq

import (
	"sync"
	"sync/atomic"
)

// Token is returned by Enter and must be handed back to the matching Exit.
type Token uint64

// Mask is a critical-section provider.
type Mask interface {
	Enter() Token
	Exit(Token)
}

// Controller is the interrupt mask plus the latch of pending handlers.
// Critical sections do not nest; handlers run with the mask held and must not
// call Enter.
type Controller struct {
	cpu sync.Mutex // held inside a critical section and while a handler runs
	seq Token      // guarded by cpu

	qmu     sync.Mutex
	pending []func()

	wake     chan struct{}
	serviced atomic.Uint64
}

// New creates a Controller with interrupts enabled.
func New() *Controller {
	return &Controller{wake: make(chan struct{}, 1)}
}

// Enter masks interrupts. Handlers raised until Exit are latched.
func (c *Controller) Enter() Token {
	c.cpu.Lock()
	c.seq++
	return c.seq
}

// Exit unmasks interrupts and services everything latched meanwhile.
// It panics if tok does not belong to the section being closed.
func (c *Controller) Exit(tok Token) {
	if tok != c.seq {
		panic("irq: exit with stale token")
	}
	c.drain()
	c.cpu.Unlock()
	c.service()
}

// Raise latches h and wakes a suspended caller. h runs immediately when the
// mask is free, otherwise when the current critical section exits. A nil h
// only wakes.
func (c *Controller) Raise(h func()) {
	if h != nil {
		c.qmu.Lock()
		c.pending = append(c.pending, h)
		c.qmu.Unlock()
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.service()
}

// Wake resumes a suspended caller without running a handler.
func (c *Controller) Wake() {
	c.Raise(nil)
}

// Suspend blocks until something is raised. It is meant to be called with the
// mask held; latched handlers run on the following Exit.
func (c *Controller) Suspend() {
	<-c.wake
}

// Serviced returns the number of handlers run so far.
func (c *Controller) Serviced() uint64 {
	return c.serviced.Load()
}

func (c *Controller) service() {
	for c.hasPending() {
		if !c.cpu.TryLock() {
			// Whoever holds the mask services on release.
			return
		}
		c.drain()
		c.cpu.Unlock()
	}
}

func (c *Controller) hasPending() bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.pending) > 0
}

// drain runs latched handlers in raise order. Caller holds cpu.
func (c *Controller) drain() {
	for {
		c.qmu.Lock()
		batch := c.pending
		c.pending = nil
		c.qmu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, h := range batch {
			c.serviced.Add(1)
			h()
		}
	}
}

// WaitUntil evaluates ready with the mask held and, while it reports false,
// calls suspend, releases the mask so pending handlers run, and re-enters.
// suspend runs with the mask held and must return on any raise, not only the
// awaited one.
// It returns the number of suspend cycles performed.
func WaitUntil(m Mask, ready func() bool, suspend func()) int {
	n := 0
	tok := m.Enter()
	for !ready() {
		suspend()
		m.Exit(tok)
		tok = m.Enter()
		n++
	}
	m.Exit(tok)
	return n
}
