package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/touch-power/internal/led"
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/power"
	"github.com/sweeney/touch-power/internal/sense"
	"github.com/sweeney/touch-power/internal/tuner"
)

const (
	activeInterval = 6692500 * time.Nanosecond
	alrInterval    = 30143 * time.Microsecond
)

type harness struct {
	sched    *Scheduler
	engine   *sense.FakeEngine
	pm       *power.Fake
	renderer *led.FakeRenderer
	bridge   *tuner.FakeBridge
}

func newHarness(t *testing.T, cfg logic.Config, initial logic.Mode, frames ...sense.Frame) *harness {
	t.Helper()
	h := &harness{
		engine:   sense.NewFakeEngine(frames...),
		pm:       power.NewFake(),
		renderer: led.NewFakeRenderer(),
		bridge:   tuner.NewFakeBridge(),
	}
	s, err := New(cfg, h.engine, h.pm, Options{
		Renderer: h.renderer,
		Bridge:   h.bridge,
		Initial:  initial,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sched = s
	return h
}

func (h *harness) step(t *testing.T) logic.Transition {
	t.Helper()
	tr, err := h.sched.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.pm.Held() {
		t.Fatal("critical section left open after step")
	}
	return tr
}

func TestNewValidates(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.Active.RefreshHz = 0
	if _, err := New(cfg, sense.NewFakeEngine(), power.NewFake(), Options{}); err == nil {
		t.Error("expected config error")
	}

	cfg = logic.DefaultConfig()
	if _, err := New(cfg, sense.NewFakeEngine(), power.NewFake(), Options{}); err == nil {
		t.Error("expected error for output enabled without renderer")
	}

	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	if _, err := New(cfg, nil, power.NewFake(), Options{}); err == nil {
		t.Error("expected error for missing engine")
	}
}

func TestStartConfiguresActiveInterval(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), 0)

	if h.sched.Mode() != logic.ModeActive {
		t.Errorf("expected active, got %s", h.sched.Mode())
	}
	if h.sched.Budget() != 1280 {
		t.Errorf("expected budget 1280, got %d", h.sched.Budget())
	}
	if len(h.engine.Timers) != 1 || h.engine.Timers[0] != activeInterval {
		t.Errorf("expected timer %v, got %v", activeInterval, h.engine.Timers)
	}
	if got := h.sched.Stats().Interval; got != activeInterval {
		t.Errorf("stats interval: got %v", got)
	}
}

func TestActiveStepsDownToALR(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), 0, sense.Frame{})

	for i := 1; i < 1280; i++ {
		tr := h.step(t)
		if tr.Changed() {
			t.Fatalf("cycle %d: premature transition to %s", i, tr.To)
		}
		if got := h.sched.Budget(); got != uint32(1280-i) {
			t.Fatalf("cycle %d: budget %d, want %d", i, got, 1280-i)
		}
	}

	tr := h.step(t)
	if tr.From != logic.ModeActive || tr.To != logic.ModeALR {
		t.Fatalf("cycle 1280: expected active->alr, got %s->%s", tr.From, tr.To)
	}
	if h.sched.Budget() != 160 {
		t.Errorf("expected ALR budget 160, got %d", h.sched.Budget())
	}
	if h.engine.LastTimer() != alrInterval {
		t.Errorf("expected ALR timer %v, got %v", alrInterval, h.engine.LastTimer())
	}
	if len(h.engine.Timers) != 2 {
		t.Errorf("expected exactly one reconfiguration, got timers %v", h.engine.Timers)
	}
	if h.renderer.Rearms != 0 {
		t.Errorf("downward transition must not rearm, got %d", h.renderer.Rearms)
	}

	st := h.sched.Stats()
	if st.Transitions[EdgeKey(logic.ModeActive, logic.ModeALR)] != 1 {
		t.Errorf("unexpected transition counts %v", st.Transitions)
	}
	if st.Iterations != 1280 {
		t.Errorf("expected 1280 iterations, got %d", st.Iterations)
	}
}

func TestWakeOnTouchWakes(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), logic.ModeWakeOnTouch, sense.Frame{LowPower: true})

	tr := h.step(t)
	if tr.To != logic.ModeActive {
		t.Fatalf("expected active, got %s", tr.To)
	}
	if h.sched.Budget() != 1280 {
		t.Errorf("expected budget 1280, got %d", h.sched.Budget())
	}
	if h.engine.LastTimer() != activeInterval {
		t.Errorf("expected active timer, got %v", h.engine.LastTimer())
	}
	if h.renderer.Rearms != 1 {
		t.Errorf("expected one rearm, got %d", h.renderer.Rearms)
	}
	if len(h.engine.Scans) != 1 || h.engine.Scans[0] != logic.SlotsLowPower {
		t.Errorf("expected a low-power scan, got %v", h.engine.Scans)
	}
	if len(h.engine.Processed) != 0 {
		t.Errorf("wake-on-touch must not process, got %v", h.engine.Processed)
	}
}

func TestWakeOnTouchFallsBackToALR(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), logic.ModeWakeOnTouch, sense.Frame{})

	tr := h.step(t)
	if tr.To != logic.ModeALR {
		t.Fatalf("expected alr, got %s", tr.To)
	}
	if h.sched.Budget() != 160 {
		t.Errorf("expected budget 160, got %d", h.sched.Budget())
	}
	if h.engine.LastTimer() != alrInterval {
		t.Errorf("expected ALR timer, got %v", h.engine.LastTimer())
	}
	if h.renderer.Rearms != 0 {
		t.Errorf("unexpected rearm")
	}
}

func TestSustainedActivityStaysActive(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), 0, sense.Frame{Active: true})

	for i := 0; i < 10000; i++ {
		tr := h.step(t)
		if tr.To != logic.ModeActive || tr.Changed() {
			t.Fatalf("cycle %d: left active for %s", i, tr.To)
		}
		if h.sched.Budget() != 1280 {
			t.Fatalf("cycle %d: budget %d", i, h.sched.Budget())
		}
	}
	if len(h.engine.Timers) != 1 {
		t.Errorf("timer should not be reprogrammed, got %d configurations", len(h.engine.Timers))
	}
}

func TestWaitLoopSuspendsOncePerBusyPoll(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100} {
		h := newHarness(t, logic.DefaultConfig(), 0, sense.Frame{BusyPolls: n})
		h.step(t)

		if len(h.pm.Sleeps) != n {
			t.Errorf("busy polls %d: got %d sleeps", n, len(h.pm.Sleeps))
		}
		if h.engine.Polls != n+1 {
			t.Errorf("busy polls %d: got %d polls", n, h.engine.Polls)
		}
		if h.pm.Enters != n+1 || h.pm.Exits != n+1 {
			t.Errorf("busy polls %d: enters=%d exits=%d", n, h.pm.Enters, h.pm.Exits)
		}
		if got := h.sched.Stats().Suspends; got != uint64(n) {
			t.Errorf("busy polls %d: stats suspends %d", n, got)
		}
	}
}

func TestSleepDepthFollowsModeAndOutput(t *testing.T) {
	tests := []struct {
		name    string
		initial logic.Mode
		output  bool
		want    logic.SleepDepth
	}{
		{"active with output", logic.ModeActive, true, logic.SleepShallow},
		{"active without output", logic.ModeActive, false, logic.SleepDeep},
		{"alr with output", logic.ModeALR, true, logic.SleepDeep},
		{"wot with output", logic.ModeWakeOnTouch, true, logic.SleepDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := logic.DefaultConfig()
			cfg.OutputEnabled = tt.output
			h := newHarness(t, cfg, tt.initial, sense.Frame{BusyPolls: 3})
			h.step(t)

			for i, d := range h.pm.Sleeps {
				if d != tt.want {
					t.Errorf("sleep %d: got %s, want %s", i, d, tt.want)
				}
			}
			c := h.sched.Stats().Sleeps
			if c.Shallow+c.Deep != 3 {
				t.Errorf("expected 3 counted sleeps, got %+v", c)
			}
		})
	}
}

func TestNoStaleReadsAcrossModes(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.Active = logic.Profile{RefreshHz: 4, Timeout: time.Second}
	cfg.ALR = logic.Profile{RefreshHz: 2, Timeout: time.Second}

	frames := []sense.Frame{{Active: true, BusyPolls: 2}}
	for i := 0; i < 6; i++ {
		frames = append(frames, sense.Frame{BusyPolls: i % 3})
	}
	frames = append(frames,
		sense.Frame{LowPower: false, BusyPolls: 1},
		sense.Frame{},
		sense.Frame{},
		sense.Frame{LowPower: true, BusyPolls: 4},
		sense.Frame{Active: true},
	)

	h := newHarness(t, cfg, 0, frames...)
	var path []logic.Mode
	for range frames {
		path = append(path, h.step(t).To)
	}

	if h.engine.StaleReads != 0 {
		t.Errorf("expected no stale reads, got %d", h.engine.StaleReads)
	}

	// 1 active frame, then 4 idle in Active, 2 idle in ALR, then WOT.
	want := []logic.Mode{
		logic.ModeActive,
		logic.ModeActive, logic.ModeActive, logic.ModeActive, logic.ModeALR,
		logic.ModeALR, logic.ModeWakeOnTouch,
		logic.ModeALR,
		logic.ModeALR, logic.ModeWakeOnTouch,
		logic.ModeActive,
		logic.ModeActive,
	}
	if len(path) != len(want) {
		t.Fatalf("path %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("step %d: path %v, want %v", i, path, want)
		}
	}

	st := h.sched.Stats()
	for edge, n := range map[string]uint64{
		EdgeKey(logic.ModeActive, logic.ModeALR):         1,
		EdgeKey(logic.ModeALR, logic.ModeWakeOnTouch):    2,
		EdgeKey(logic.ModeWakeOnTouch, logic.ModeALR):    1,
		EdgeKey(logic.ModeWakeOnTouch, logic.ModeActive): 1,
	} {
		if st.Transitions[edge] != n {
			t.Errorf("%s: got %d, want %d", edge, st.Transitions[edge], n)
		}
	}
}

func TestInvalidModeIsFatal(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	engine := sense.NewFakeEngine()
	s, err := New(cfg, engine, power.NewFake(), Options{Initial: logic.Mode(7)})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); !errors.Is(err, logic.ErrInvalidMode) {
		t.Errorf("start: expected ErrInvalidMode, got %v", err)
	}
	if _, err := s.Step(); !errors.Is(err, logic.ErrInvalidMode) {
		t.Fatalf("step: expected ErrInvalidMode, got %v", err)
	}
	if len(engine.Scans) != 0 || len(engine.Timers) != 0 {
		t.Error("engine must not be touched in an invalid mode")
	}
}

func TestEngineErrorsAreFatal(t *testing.T) {
	boom := errors.New("boom")

	h := newHarness(t, logic.DefaultConfig(), 0)
	h.engine.ScanError = boom
	if _, err := h.sched.Step(); !errors.Is(err, boom) {
		t.Errorf("scan: expected wrapped error, got %v", err)
	}

	h = newHarness(t, logic.DefaultConfig(), 0)
	h.engine.ProcessError = boom
	if _, err := h.sched.Step(); !errors.Is(err, boom) {
		t.Errorf("process: expected wrapped error, got %v", err)
	}
	if len(h.renderer.Renders) != 0 {
		t.Error("renderer must not run after a fatal error")
	}
}

func TestWakeOnTouchReadErrorIsFatal(t *testing.T) {
	boom := errors.New("bus fault")
	h := newHarness(t, logic.DefaultConfig(), logic.ModeWakeOnTouch,
		sense.Frame{LowPower: true, Err: boom})

	if _, err := h.sched.Step(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
	if h.sched.Mode() != logic.ModeWakeOnTouch {
		t.Errorf("failed read must not wake the scheduler, got %s", h.sched.Mode())
	}
	if len(h.renderer.Renders) != 0 || len(h.bridge.Exchanges) != 0 {
		t.Error("side effects must not run after a fatal error")
	}
}

func TestSideEffectFailuresAreIgnored(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), logic.ModeALR, sense.Frame{Active: true, Touch: sense.TouchState{Active: true, X: 200}})
	h.renderer.RenderError = errors.New("led gone")
	h.renderer.RearmError = errors.New("led gone")
	h.bridge.ExchangeError = errors.New("host gone")

	tr := h.step(t)
	if tr.To != logic.ModeActive {
		t.Fatalf("expected active, got %s", tr.To)
	}
	if len(h.renderer.Renders) != 1 || h.renderer.Renders[0].Touch.X != 200 {
		t.Errorf("unexpected renders %+v", h.renderer.Renders)
	}
	if len(h.bridge.Exchanges) != 1 {
		t.Fatalf("expected one exchange, got %d", len(h.bridge.Exchanges))
	}
	ex := h.bridge.Exchanges[0]
	if ex.Mode != logic.ModeActive || ex.Budget != 1280 || ex.Interval != activeInterval || ex.Iteration != 1 {
		t.Errorf("unexpected exchange %+v", ex)
	}
}

func TestDisabledVariantsSkipSideEffects(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	h := newHarness(t, cfg, logic.ModeALR, sense.Frame{Active: true})

	h.step(t)
	if len(h.renderer.Renders) != 0 || h.renderer.Rearms != 0 {
		t.Error("renderer used with output disabled")
	}
	if len(h.bridge.Exchanges) != 0 {
		t.Error("bridge used with tuner disabled")
	}
}

func TestSetRefreshRate(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), 0, sense.Frame{Active: true})

	h.sched.SetRefreshRate(logic.ModeActive, 64)
	h.sched.SetRefreshRate(logic.ModeALR, 16)
	h.sched.SetRefreshRate(logic.ModeWakeOnTouch, 16) // rejected
	h.step(t)

	want := 1*time.Second/64 - 1120*time.Microsecond
	if h.engine.LastTimer() != want {
		t.Errorf("expected active timer %v, got %v", want, h.engine.LastTimer())
	}
	if len(h.engine.Timers) != 2 {
		t.Errorf("ALR change must not touch the active timer, got %v", h.engine.Timers)
	}
	if h.sched.Budget() != 640 {
		t.Errorf("expected new ceiling 640 after activity, got %d", h.sched.Budget())
	}
	if got := h.sched.Stats().Interval; got != want {
		t.Errorf("stats interval %v, want %v", got, want)
	}
}

func TestSetRefreshRateInWakeOnTouchUsesALRTimer(t *testing.T) {
	h := newHarness(t, logic.DefaultConfig(), logic.ModeWakeOnTouch, sense.Frame{})

	h.sched.SetRefreshRate(logic.ModeALR, 16)
	h.step(t)

	want := time.Second/16 - 1107*time.Microsecond
	if h.engine.Timers[1] != want {
		t.Errorf("expected ALR timer reprogrammed before scan to %v, got %v", want, h.engine.Timers)
	}
}

func TestProcessTimeMeasured(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(150 * time.Microsecond)
		return clock
	}

	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	s, err := New(cfg, sense.NewFakeEngine(sense.Frame{Active: true}), power.NewFake(), Options{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Step(); err != nil {
		t.Fatal(err)
	}

	if got := s.Stats().ProcessTime[logic.ModeActive]; got != 150*time.Microsecond {
		t.Errorf("expected 150us, got %v", got)
	}
}

func TestRunStopsOnCancelAndReportsTransitions(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	cfg.Active = logic.Profile{RefreshHz: 2, Timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []logic.Transition
	s, err := New(cfg, sense.NewFakeEngine(sense.Frame{}), power.NewFake(), Options{
		OnTransition: func(tr logic.Transition) {
			seen = append(seen, tr)
			cancel()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 1 || seen[0].To != logic.ModeALR {
		t.Errorf("unexpected transitions %+v", seen)
	}
	if st := s.Stats(); st.Iterations != 2 || st.LastChange.IsZero() {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRunReturnsFatalError(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false
	engine := sense.NewFakeEngine()
	engine.ScanError = errors.New("bus fault")

	s, err := New(cfg, engine, power.NewFake(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error")
	}
}
