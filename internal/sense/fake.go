package sense

import (
	"time"

	"github.com/sweeney/touch-power/internal/logic"
)

// Frame is the scripted outcome of one scan.
type Frame struct {
	Active    bool // result of IsAnyActive after Process
	LowPower  bool // result of IsAnyLowPowerActive
	Touch     TouchState
	BusyPolls int   // IsBusy reports true this many times before completing
	Err       error // acquisition error reported by ScanErr and Process
}

// FakeEngine is a synchronous test double that replays scripted frames.
// Each Scan consumes the next frame; once exhausted the last frame repeats.
type FakeEngine struct {
	Frames []Frame

	// Scans, Processed and Timers record calls in order.
	Scans     []logic.SlotSet
	Processed []logic.SlotSet
	Timers    []time.Duration

	// Polls counts IsBusy calls.
	Polls int

	// StaleReads counts result queries made before the current scan was
	// processed (or, for low-power queries, before it completed).
	StaleReads int

	// ScanError and ProcessError, if set, are returned by Scan and Process.
	ScanError    error
	ProcessError error

	index     int
	current   Frame
	busyLeft  int
	scanned   bool
	processed bool
}

// NewFakeEngine creates a FakeEngine with the given frames.
func NewFakeEngine(frames ...Frame) *FakeEngine {
	return &FakeEngine{Frames: frames}
}

// Scan starts the next scripted frame.
func (f *FakeEngine) Scan(slots logic.SlotSet) error {
	if f.ScanError != nil {
		return f.ScanError
	}
	if f.busyLeft > 0 {
		return ErrBusy
	}
	f.Scans = append(f.Scans, slots)
	if len(f.Frames) > 0 {
		f.current = f.Frames[f.index]
		if f.index < len(f.Frames)-1 {
			f.index++
		}
	}
	f.busyLeft = f.current.BusyPolls
	f.scanned = true
	f.processed = false
	return nil
}

// IsBusy reports true for the frame's BusyPolls calls after each Scan.
func (f *FakeEngine) IsBusy() bool {
	f.Polls++
	if f.busyLeft > 0 {
		f.busyLeft--
		return true
	}
	return false
}

// Process marks the current frame as processed.
func (f *FakeEngine) Process(slots logic.SlotSet) error {
	if f.ProcessError != nil {
		return f.ProcessError
	}
	if f.busyLeft > 0 {
		return ErrBusy
	}
	if f.current.Err != nil {
		return f.current.Err
	}
	f.Processed = append(f.Processed, slots)
	f.processed = true
	return nil
}

// IsAnyActive returns the frame's Active flag.
func (f *FakeEngine) IsAnyActive(slots logic.SlotSet) bool {
	if !f.processed {
		f.StaleReads++
	}
	return f.current.Active
}

// IsAnyLowPowerActive returns the frame's LowPower flag.
func (f *FakeEngine) IsAnyLowPowerActive(slots logic.SlotSet) bool {
	if !f.scanned || f.busyLeft > 0 {
		f.StaleReads++
	}
	return f.current.LowPower
}

// ScanErr returns the frame's Err once the scan has completed.
func (f *FakeEngine) ScanErr() error {
	if f.busyLeft > 0 {
		return nil
	}
	return f.current.Err
}

// ConfigureWakeTimer records the period.
func (f *FakeEngine) ConfigureWakeTimer(period time.Duration) error {
	if period <= 0 {
		return ErrPeriod
	}
	if f.busyLeft > 0 {
		return ErrBusy
	}
	f.Timers = append(f.Timers, period)
	return nil
}

// Touch returns the frame's touch state.
func (f *FakeEngine) Touch() TouchState {
	return f.current.Touch
}

// LastTimer returns the most recently configured period, or zero.
func (f *FakeEngine) LastTimer() time.Duration {
	if len(f.Timers) == 0 {
		return 0
	}
	return f.Timers[len(f.Timers)-1]
}
