package internal

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/led"
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/mqtt"
	"github.com/sweeney/touch-power/internal/power"
	"github.com/sweeney/touch-power/internal/scheduler"
	"github.com/sweeney/touch-power/internal/sense"
	"github.com/sweeney/touch-power/internal/tuner"
)

// TestIntegrationFullCycle drives the scheduler against the MPR121 engine on a
// simulated bus, with real interrupt delivery and sleeps, through every mode.
func TestIntegrationFullCycle(t *testing.T) {
	cfg := logic.Config{
		Active:        logic.Profile{RefreshHz: 200, Timeout: 50 * time.Millisecond}, // ceiling 10, 5ms
		ALR:           logic.Profile{RefreshHz: 100, Timeout: 50 * time.Millisecond}, // ceiling 5, 10ms
		MinTick:       logic.DefaultMinTick,
		OutputEnabled: true,
		TunerEnabled:  true,
	}

	var touched atomic.Uint32
	bus := sense.NewSimBus(sense.DefaultAddress)
	bus.SetTouch(func() uint16 { return uint16(touched.Load()) })

	ctl := irq.New()
	engine, err := sense.NewMPR121(bus, ctl, sense.DefaultMPR121Config())
	if err != nil {
		t.Fatalf("init engine: %v", err)
	}
	defer engine.Close()

	host := power.NewHost(ctl)
	renderer := led.NewFakeRenderer()
	publisher := mqtt.NewFakePublisher()
	bridge := tuner.NewMQTTBridge(publisher)
	bridge.MinInterval = 0

	sched, err := scheduler.New(cfg, engine, host, scheduler.Options{Renderer: renderer, Bridge: bridge})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	step := func(wantMode logic.Mode) {
		t.Helper()
		tr, err := sched.Step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if tr.To != wantMode {
			t.Fatalf("after %s step: got %s, want %s", tr.From, tr.To, wantMode)
		}
	}

	// Finger on electrode 0 (column 0) and electrode 7 (row 1).
	touched.Store(0x0001 | 0x0080)
	step(logic.ModeActive)
	if last := renderer.Renders[len(renderer.Renders)-1]; !last.Touch.Active || last.Touch.Slots != 0x0081 {
		t.Errorf("expected rendered touch, got %+v", last.Touch)
	}

	touched.Store(0)
	for i := 1; i < 10; i++ {
		step(logic.ModeActive)
	}
	step(logic.ModeALR)
	for i := 1; i < 5; i++ {
		step(logic.ModeALR)
	}
	step(logic.ModeWakeOnTouch)
	step(logic.ModeALR)
	for i := 1; i < 5; i++ {
		step(logic.ModeALR)
	}
	step(logic.ModeWakeOnTouch)

	touched.Store(0x0001)
	step(logic.ModeActive)

	if renderer.Rearms != 1 {
		t.Errorf("expected one rearm on wake, got %d", renderer.Rearms)
	}

	st := sched.Stats()
	wantEdges := map[string]uint64{
		"active->alr": 1,
		"alr->wot":    2,
		"wot->alr":    1,
		"wot->active": 1,
	}
	for edge, n := range wantEdges {
		if st.Transitions[edge] != n {
			t.Errorf("%s: got %d, want %d", edge, st.Transitions[edge], n)
		}
	}
	if st.Interval != 5*time.Millisecond {
		t.Errorf("expected active interval 5ms, got %v", st.Interval)
	}
	if st.Sleeps.Shallow == 0 || st.Sleeps.Deep == 0 {
		t.Errorf("expected both sleep depths, got %+v", st.Sleeps)
	}
	if got := host.Counts(); got != st.Sleeps {
		t.Errorf("host counts %+v disagree with scheduler %+v", got, st.Sleeps)
	}
	if ctl.Serviced() != st.Iterations {
		t.Errorf("expected one completion interrupt per iteration: %d serviced, %d iterations", ctl.Serviced(), st.Iterations)
	}

	if uint64(len(publisher.States)) != st.Iterations {
		t.Fatalf("expected one state sample per iteration, got %d for %d", len(publisher.States), st.Iterations)
	}
	var payload mqtt.StatePayload
	if err := json.Unmarshal(publisher.StatePayloads[len(publisher.StatePayloads)-1], &payload); err != nil {
		t.Fatalf("invalid state payload: %v", err)
	}
	if payload.Touch.Mode != "active" || payload.Touch.Budget != 10 || payload.Touch.IntervalUs != 5000 {
		t.Errorf("unexpected final sample %+v", payload.Touch)
	}
}

// TestIntegrationRefreshRateFromSerialHost feeds a rate command through the
// serial line protocol into a running scheduler.
func TestIntegrationRefreshRateFromSerialHost(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.OutputEnabled = false
	cfg.TunerEnabled = false

	engine := sense.NewFakeEngine(sense.Frame{Active: true, BusyPolls: 1})
	pm := power.NewFake()
	sched, err := scheduler.New(cfg, engine, pm, scheduler.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}

	req, err := tuner.ParseCommand("R active 64")
	if err != nil {
		t.Fatal(err)
	}
	sched.SetRefreshRate(req.Mode, req.Hz)

	if _, err := sched.Step(); err != nil {
		t.Fatal(err)
	}
	want := logic.Interval(64, cfg.Active.ScanTime, cfg.Active.ProcessTime, cfg.MinTick)
	if engine.LastTimer() != want {
		t.Errorf("expected timer %v, got %v", want, engine.LastTimer())
	}
	if sched.Budget() != 640 {
		t.Errorf("expected budget 640, got %d", sched.Budget())
	}
}
