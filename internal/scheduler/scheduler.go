// Package scheduler runs the perpetual scan/process/decide loop that moves the
// touch controller between Active, ALR and WakeOnTouch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/led"
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/power"
	"github.com/sweeney/touch-power/internal/sense"
	"github.com/sweeney/touch-power/internal/tuner"
)

// Options holds the optional collaborators of a Scheduler.
type Options struct {
	// Renderer is called after every iteration when output is enabled.
	Renderer led.Renderer

	// Bridge is called after every iteration when the tuner is enabled.
	Bridge tuner.Bridge

	// OnTransition, if set, is called from the loop goroutine for every
	// mode change.
	OnTransition func(t logic.Transition)

	// Now defaults to time.Now.
	Now func() time.Time

	// Initial overrides the starting mode. Zero means Active.
	Initial logic.Mode
}

// Scheduler owns the mode machine and drives the sensing engine.
// Step and Run must be called from a single goroutine. SetRefreshRate and
// Stats are safe for concurrent use.
type Scheduler struct {
	machine  *logic.Machine
	engine   sense.Engine
	pm       power.Manager
	renderer led.Renderer
	bridge   tuner.Bridge
	onChange func(logic.Transition)
	now      func() time.Time

	timer     time.Duration // period last handed to the engine
	iteration uint64

	rmu   sync.Mutex
	rates []rateChange

	smu   sync.Mutex
	stats Stats
}

type rateChange struct {
	mode logic.Mode
	hz   uint32
}

// New validates cfg and creates a scheduler in the initial mode with a full
// budget. The wake timer is not touched until Start.
func New(cfg logic.Config, engine sense.Engine, pm power.Manager, opts Options) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if engine == nil || pm == nil {
		return nil, errors.New("scheduler: engine and power manager are required")
	}
	if cfg.OutputEnabled && opts.Renderer == nil {
		return nil, errors.New("scheduler: output enabled without a renderer")
	}
	if cfg.TunerEnabled && opts.Bridge == nil {
		return nil, errors.New("scheduler: tuner enabled without a bridge")
	}

	initial := opts.Initial
	if initial == 0 {
		initial = logic.ModeActive
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		machine:  logic.NewMachineIn(cfg, initial),
		engine:   engine,
		pm:       pm,
		renderer: opts.Renderer,
		bridge:   opts.Bridge,
		onChange: opts.OnTransition,
		now:      now,
	}
	s.stats = Stats{
		Mode:        initial,
		Budget:      s.machine.Budget(),
		Ceiling:     s.machine.Ceiling(),
		Transitions: make(map[string]uint64),
		ProcessTime: make(map[logic.Mode]time.Duration),
	}
	return s, nil
}

// Start programs the wake timer for the initial mode.
func (s *Scheduler) Start() error {
	mode := s.machine.Mode()
	if !mode.Valid() {
		return fmt.Errorf("start: %w: %d", logic.ErrInvalidMode, uint8(mode))
	}
	period := s.machine.Interval(mode)
	if err := s.configure(period); err != nil {
		return err
	}
	s.smu.Lock()
	s.stats.Interval = period
	s.smu.Unlock()
	log.Printf("scheduler: start mode=%s interval=%v budget=%d", mode, period, s.machine.Budget())
	return nil
}

// Mode returns the current mode. Loop goroutine only.
func (s *Scheduler) Mode() logic.Mode {
	return s.machine.Mode()
}

// Budget returns the remaining idle cycles. Loop goroutine only.
func (s *Scheduler) Budget() uint32 {
	return s.machine.Budget()
}

// SetRefreshRate queues a refresh-rate change. It is applied at the top of the
// next iteration, before the scan is issued.
func (s *Scheduler) SetRefreshRate(mode logic.Mode, hz uint32) {
	s.rmu.Lock()
	s.rates = append(s.rates, rateChange{mode: mode, hz: hz})
	s.rmu.Unlock()
}

// Run calls Step until ctx is cancelled or a fatal error occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t, err := s.Step()
		if err != nil {
			return err
		}
		if t.Changed() {
			log.Printf("mode: %s -> %s (budget=%d)", t.From, t.To, s.machine.Budget())
		}
	}
}

// Step runs exactly one iteration of the current mode. Errors are fatal.
func (s *Scheduler) Step() (logic.Transition, error) {
	if err := s.applyRates(); err != nil {
		return logic.Transition{}, err
	}

	mode := s.machine.Mode()
	if !mode.Valid() {
		return logic.Transition{From: mode, To: mode}, fmt.Errorf("step: %w: %d", logic.ErrInvalidMode, uint8(mode))
	}

	cfg := s.machine.Config()
	slots := logic.Slots(mode)

	if err := s.engine.Scan(slots); err != nil {
		return logic.Transition{}, fmt.Errorf("scan: %w", err)
	}

	depth := logic.SelectSleep(mode, cfg.OutputEnabled)
	suspends := irq.WaitUntil(s.pm,
		func() bool { return !s.engine.IsBusy() },
		func() { power.Sleep(s.pm, depth) },
	)

	start := s.now()
	var active bool
	if mode == logic.ModeWakeOnTouch {
		if err := s.engine.ScanErr(); err != nil {
			return logic.Transition{}, fmt.Errorf("scan: %w", err)
		}
		active = s.engine.IsAnyLowPowerActive(slots)
	} else {
		if err := s.engine.Process(slots); err != nil {
			return logic.Transition{}, fmt.Errorf("process: %w", err)
		}
		active = s.engine.IsAnyActive(slots)
	}
	elapsed := s.now().Sub(start)

	t, err := s.machine.Decide(active)
	if err != nil {
		return t, fmt.Errorf("decide: %w", err)
	}

	if t.Rearm && s.renderer != nil {
		if err := s.renderer.Rearm(); err != nil {
			log.Printf("led: rearm failed: %v", err)
		}
	}
	if t.Reconfigure {
		if err := s.configure(t.Interval); err != nil {
			return t, err
		}
	}

	s.iteration++
	touch := s.engine.Touch()

	if cfg.OutputEnabled {
		if err := s.renderer.Render(t.To, touch); err != nil {
			log.Printf("led: render failed: %v", err)
		}
	}
	if cfg.TunerEnabled {
		err := s.bridge.Exchange(tuner.State{
			Time:      s.now(),
			Mode:      t.To,
			Budget:    s.machine.Budget(),
			Interval:  s.timer,
			Iteration: s.iteration,
			Touch:     touch,
		})
		if err != nil {
			log.Printf("tuner: exchange failed: %v", err)
		}
	}

	s.record(t, mode, depth, suspends, elapsed, touch)
	if t.Changed() && s.onChange != nil {
		s.onChange(t)
	}
	return t, nil
}

func (s *Scheduler) configure(period time.Duration) error {
	if err := s.engine.ConfigureWakeTimer(period); err != nil {
		return fmt.Errorf("configure wake timer: %w", err)
	}
	s.timer = period
	return nil
}

func (s *Scheduler) applyRates() error {
	s.rmu.Lock()
	pending := s.rates
	s.rates = nil
	s.rmu.Unlock()

	for _, rc := range pending {
		period, err := s.machine.SetRefreshRate(rc.mode, rc.hz)
		if err != nil {
			log.Printf("scheduler: rejected rate change %s=%dHz: %v", rc.mode, rc.hz, err)
			continue
		}
		log.Printf("scheduler: %s refresh rate %dHz, interval %v", rc.mode, rc.hz, period)

		// WakeOnTouch scans on the ALR timer.
		current := s.machine.Mode()
		if current == logic.ModeWakeOnTouch {
			current = logic.ModeALR
		}
		if rc.mode != current {
			continue
		}
		if err := s.configure(period); err != nil {
			return err
		}
	}
	return nil
}
