// Package power provides the platform power manager: critical sections and the
// two low-power wait states used while a scan is in flight.
package power

import (
	"sync/atomic"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/logic"
)

// Manager is what the scheduler needs from the platform.
type Manager interface {
	irq.Mask

	// EnterShallowSleep and EnterDeepSleep return on any interrupt, not
	// necessarily the awaited one. Callers must re-check their condition.
	EnterShallowSleep()
	EnterDeepSleep()
}

// Sleep enters the wait state for depth.
func Sleep(m Manager, depth logic.SleepDepth) {
	if depth == logic.SleepShallow {
		m.EnterShallowSleep()
		return
	}
	m.EnterDeepSleep()
}

// SleepCounts reports how often each wait state was entered.
type SleepCounts struct {
	Shallow uint64
	Deep    uint64
}

// Host implements Manager on top of an irq.Controller. Both depths block until
// the next raise; they differ only in what they count.
type Host struct {
	ctl     *irq.Controller
	shallow atomic.Uint64
	deep    atomic.Uint64
}

// NewHost creates a manager driven by ctl.
func NewHost(ctl *irq.Controller) *Host {
	return &Host{ctl: ctl}
}

func (h *Host) Enter() irq.Token  { return h.ctl.Enter() }
func (h *Host) Exit(tok irq.Token) { h.ctl.Exit(tok) }

// EnterShallowSleep suspends with output clocks kept running.
func (h *Host) EnterShallowSleep() {
	h.shallow.Add(1)
	h.ctl.Suspend()
}

// EnterDeepSleep suspends with everything but the wake sources stopped.
func (h *Host) EnterDeepSleep() {
	h.deep.Add(1)
	h.ctl.Suspend()
}

// Counts returns a snapshot of sleep entries.
func (h *Host) Counts() SleepCounts {
	return SleepCounts{Shallow: h.shallow.Load(), Deep: h.deep.Load()}
}
