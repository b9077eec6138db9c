// Package logic contains the pure power-mode policy for the touch scheduler.
// This package has NO external dependencies (no I2C, GPIO, MQTT or sleeping).
// Everything here is a function of values handed in by the scheduler.
package logic

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"
)

// ErrInvalidMode is returned for any mode value outside the defined enumeration.
// It means the scheduler state is corrupt and there is no recovery path.
var ErrInvalidMode = errors.New("invalid power mode")

// Mode is the current scan/process regime, ordered by decreasing refresh rate.
type Mode uint8

const (
	ModeActive      Mode = 0x01 // all slots, high refresh rate
	ModeALR         Mode = 0x02 // all slots, low refresh rate
	ModeWakeOnTouch Mode = 0x03 // low-power slots only
)

// String returns the short lowercase name used in logs and payloads.
func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeALR:
		return "alr"
	case ModeWakeOnTouch:
		return "wot"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses the names returned by String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "active":
		return ModeActive, nil
	case "alr":
		return ModeALR, nil
	case "wot":
		return ModeWakeOnTouch, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Valid reports whether m is one of the three defined modes.
func (m Mode) Valid() bool {
	return m == ModeActive || m == ModeALR || m == ModeWakeOnTouch
}

// SlotSet selects which sensor slots a scan covers.
type SlotSet uint8

const (
	SlotsAll      SlotSet = iota // every configured slot
	SlotsLowPower                // reduced wake-on-touch subset
)

func (s SlotSet) String() string {
	if s == SlotsLowPower {
		return "lp"
	}
	return "all"
}

// Slots returns the slot set scanned in mode m.
func Slots(m Mode) SlotSet {
	if m == ModeWakeOnTouch {
		return SlotsLowPower
	}
	return SlotsAll
}

// SleepDepth is the low-power wait state used while a scan is in flight.
type SleepDepth uint8

const (
	SleepDeep SleepDepth = iota
	SleepShallow
)

func (d SleepDepth) String() string {
	if d == SleepShallow {
		return "shallow"
	}
	return "deep"
}

// Profile holds the constants of a timed mode (Active or ALR).
type Profile struct {
	RefreshHz   uint32        // target scans per second
	Timeout     time.Duration // inactivity before stepping down
	ScanTime    time.Duration // expected frame scan duration
	ProcessTime time.Duration // expected processing duration
}

// ErrCeilingOverflow is returned when refresh rate x timeout does not fit the
// 32-bit budget counter.
var ErrCeilingOverflow = errors.New("timeout budget overflows 32 bits")

// Ceiling returns the timeout budget in scan cycles: refresh rate x timeout
// seconds. It saturates at math.MaxUint32; Validate rejects such profiles.
func (p Profile) Ceiling() uint32 {
	c, err := p.CheckedCeiling()
	if err != nil {
		return math.MaxUint32
	}
	return c
}

// CheckedCeiling is Ceiling with overflow reported as ErrCeilingOverflow.
// A negative timeout gives zero.
func (p Profile) CheckedCeiling() (uint32, error) {
	if p.Timeout <= 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(p.RefreshHz), uint64(p.Timeout))
	if hi >= uint64(time.Second) {
		return 0, ErrCeilingOverflow
	}
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	if q > math.MaxUint32 {
		return 0, ErrCeilingOverflow
	}
	return uint32(q), nil
}

// Config is evaluated once at startup. Feature variants are runtime fields.
type Config struct {
	Active  Profile
	ALR     Profile
	MinTick time.Duration // smallest period the wake timer can represent

	OutputEnabled bool // auxiliary LED output
	TunerEnabled  bool // diagnostics bridge exchange after each iteration
}

// Wake timer runs from a 40 kHz low-speed oscillator.
const (
	lowSpeedClockHz = 40000
	DefaultMinTick  = time.Second / lowSpeedClockHz
)

// DefaultConfig returns the stock tuning: 128 Hz for 10 s, then 32 Hz for 5 s.
func DefaultConfig() Config {
	return Config{
		Active: Profile{
			RefreshHz:   128,
			Timeout:     10 * time.Second,
			ScanTime:    923 * time.Microsecond,
			ProcessTime: 197 * time.Microsecond,
		},
		ALR: Profile{
			RefreshHz:   32,
			Timeout:     5 * time.Second,
			ScanTime:    923 * time.Microsecond,
			ProcessTime: 184 * time.Microsecond,
		},
		MinTick:       DefaultMinTick,
		OutputEnabled: true,
		TunerEnabled:  true,
	}
}

// Profile returns the timed profile for m. WakeOnTouch has none.
func (c Config) Profile(m Mode) (Profile, bool) {
	switch m {
	case ModeActive:
		return c.Active, true
	case ModeALR:
		return c.ALR, true
	default:
		return Profile{}, false
	}
}

// Validate rejects configurations the wake timer or the budget cannot honour.
func (c Config) Validate() error {
	if c.MinTick <= 0 {
		return fmt.Errorf("min tick must be positive, got %v", c.MinTick)
	}
	for _, m := range []Mode{ModeActive, ModeALR} {
		p, _ := c.Profile(m)
		if p.RefreshHz == 0 {
			return fmt.Errorf("%s: refresh rate must be positive", m)
		}
		if err := checkCeiling(m, p); err != nil {
			return err
		}
		if p.ScanTime < 0 || p.ProcessTime < 0 {
			return fmt.Errorf("%s: scan and process times must not be negative", m)
		}
	}
	return nil
}

// checkCeiling rejects a profile whose budget is empty or does not fit.
func checkCeiling(m Mode, p Profile) error {
	c, err := p.CheckedCeiling()
	if err != nil {
		return fmt.Errorf("%s: %dHz x %v: %w", m, p.RefreshHz, p.Timeout, err)
	}
	if c == 0 {
		return fmt.Errorf("%s: timeout %v is shorter than one scan cycle", m, p.Timeout)
	}
	return nil
}
