package logic

import (
	"fmt"
	"time"
)

// Transition is the outcome of one decide step.
type Transition struct {
	From Mode
	To   Mode

	// Reconfigure is set when the wake timer must be reprogrammed to Interval
	// before the next scan is issued.
	Reconfigure bool
	Interval    time.Duration

	// Rearm is set when auxiliary output must be re-initialised because the
	// scheduler is returning to Active from a mode that left it disabled.
	Rearm bool
}

// Changed reports whether the mode moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine owns the long-lived scheduler state: the current mode and its budget.
type Machine struct {
	cfg       Config
	mode      Mode
	budget    Budget
	intervals map[Mode]time.Duration
}

// NewMachine creates a machine in Active mode with a full Active budget.
func NewMachine(cfg Config) *Machine {
	return NewMachineIn(cfg, ModeActive)
}

// NewMachineIn creates a machine starting in mode with that mode's full budget.
func NewMachineIn(cfg Config, mode Mode) *Machine {
	m := &Machine{
		cfg:  cfg,
		mode: mode,
		intervals: map[Mode]time.Duration{
			ModeActive: ProfileInterval(cfg.Active, cfg.MinTick),
			ModeALR:    ProfileInterval(cfg.ALR, cfg.MinTick),
		},
	}
	m.budget.Reset(cfg, mode)
	return m
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	return m.mode
}

// Budget returns the remaining idle cycles in the current mode.
func (m *Machine) Budget() uint32 {
	return m.budget.Left()
}

// Ceiling returns the value the budget was last reset to.
func (m *Machine) Ceiling() uint32 {
	return m.budget.Ceiling()
}

// Config returns the configuration the machine was built with, including any
// refresh-rate changes applied since.
func (m *Machine) Config() Config {
	return m.cfg
}

// Interval returns the wake-timer period for mode. WakeOnTouch keeps the timer
// that was programmed for ALR.
func (m *Machine) Interval(mode Mode) time.Duration {
	if mode == ModeWakeOnTouch {
		return m.intervals[ModeALR]
	}
	return m.intervals[mode]
}

// SetRefreshRate changes the refresh rate of a timed mode and re-derives its
// interval and ceiling. The current budget is not touched; the new ceiling
// applies from the next reset.
func (m *Machine) SetRefreshRate(mode Mode, hz uint32) (time.Duration, error) {
	if hz == 0 {
		return 0, fmt.Errorf("%s: refresh rate must be positive", mode)
	}
	var p *Profile
	switch mode {
	case ModeActive:
		p = &m.cfg.Active
	case ModeALR:
		p = &m.cfg.ALR
	case ModeWakeOnTouch:
		return 0, fmt.Errorf("%s has no refresh rate", mode)
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(mode))
	}

	candidate := *p
	candidate.RefreshHz = hz
	if err := checkCeiling(mode, candidate); err != nil {
		return 0, err
	}
	*p = candidate
	m.intervals[mode] = ProfileInterval(candidate, m.cfg.MinTick)
	return m.intervals[mode], nil
}

// Decide applies one cycle's activity result to the current mode and returns
// the transition taken. For WakeOnTouch, active is the low-power slot result.
func (m *Machine) Decide(active bool) (Transition, error) {
	t := Transition{From: m.mode, To: m.mode}

	switch m.mode {
	case ModeActive:
		if active {
			m.budget.Reset(m.cfg, ModeActive)
			break
		}
		m.budget.Tick()
		if m.budget.Expired() {
			m.enter(&t, ModeALR)
		}

	case ModeALR:
		if active {
			m.enter(&t, ModeActive)
			t.Rearm = m.cfg.OutputEnabled
			break
		}
		m.budget.Tick()
		if m.budget.Expired() {
			// Low-power scanning runs on the timer already programmed for ALR.
			m.mode = ModeWakeOnTouch
			t.To = ModeWakeOnTouch
		}

	case ModeWakeOnTouch:
		if active {
			m.enter(&t, ModeActive)
			t.Rearm = m.cfg.OutputEnabled
			break
		}
		m.enter(&t, ModeALR)

	default:
		return t, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m.mode))
	}

	return t, nil
}

func (m *Machine) enter(t *Transition, to Mode) {
	m.mode = to
	m.budget.Reset(m.cfg, to)
	t.To = to
	t.Reconfigure = true
	t.Interval = m.Interval(to)
}
