// Package sense is the facade over the capacitive sensing engine.
//
// Scanning is asynchronous: Scan starts acquisition and returns, completion is
// delivered as an interrupt that clears IsBusy. Everything else is synchronous
// and only valid once the engine is no longer busy.
package sense

import (
	"errors"
	"time"

	"github.com/sweeney/touch-power/internal/logic"
)

var (
	// ErrBusy is returned when an operation needs a completed scan.
	ErrBusy = errors.New("sense: scan in progress")
	// ErrPeriod is returned for a non-positive wake-timer period.
	ErrPeriod = errors.New("sense: wake timer period must be positive")
)

// Engine is the scan/process/query contract the scheduler drives.
type Engine interface {
	// Scan begins acquisition over slots and returns immediately.
	Scan(slots logic.SlotSet) error

	// IsBusy reports whether the last scan's completion is still pending.
	IsBusy() bool

	// Process converts the completed scan into widget results.
	Process(slots logic.SlotSet) error

	// IsAnyActive reports whether any widget in slots was active in the last
	// processed results.
	IsAnyActive(slots logic.SlotSet) bool

	// IsAnyLowPowerActive reports whether the last low-power scan saw a touch.
	IsAnyLowPowerActive(slots logic.SlotSet) bool

	// ScanErr returns the acquisition error of the last completed scan. The
	// low-power path skips Process, so this is where it sees a failed read.
	ScanErr() error

	// ConfigureWakeTimer sets the delay between scans. It takes effect for the
	// next scan issued.
	ConfigureWakeTimer(period time.Duration) error

	// Touch returns the latest processed touch state.
	Touch() TouchState
}

// TouchState is the processed touch result handed to output and diagnostics.
type TouchState struct {
	Active bool
	Slots  uint16 // bitmask of active slots
	X      uint8  // 0..255 along the column electrodes
	Y      uint8  // 0..255 along the row electrodes
}
