// Command touch-power drives a capacitive touch controller through its Active,
// ALR and WakeOnTouch power modes and reports state over HTTP, MQTT or serial.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/led"
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/mqtt"
	"github.com/sweeney/touch-power/internal/power"
	"github.com/sweeney/touch-power/internal/scheduler"
	"github.com/sweeney/touch-power/internal/sense"
	"github.com/sweeney/touch-power/internal/status"
	"github.com/sweeney/touch-power/internal/tuner"
	"github.com/sweeney/touch-power/internal/web"
)

// Tuner link kinds accepted by -tuner.
const (
	tunerOff    = "off"
	tunerMQTT   = "mqtt"
	tunerSerial = "serial"
)

const (
	gpioChip       = "gpiochip0"
	statusInterval = time.Second

	// Simulated taps: one every simTapPeriod, held for simTapHold.
	simTapPeriod = 20 * time.Second
	simTapHold   = 3 * time.Second
)

// options is the parsed command line.
type options struct {
	cfg logic.Config

	ledPins [2]int

	tuner      string
	broker     string
	serialDev  string
	serialBaud int

	i2cBus   string
	mpr121   sense.MPR121Config
	httpAddr string
	sim      bool
}

func main() {
	def := logic.DefaultConfig()
	mprDefault := sense.DefaultMPR121Config()

	activeHz := flag.Uint("active-hz", uint(def.Active.RefreshHz), "Active mode refresh rate (Hz)")
	activeTimeout := flag.Duration("active-timeout", def.Active.Timeout, "Inactivity before Active steps down to ALR")
	alrHz := flag.Uint("alr-hz", uint(def.ALR.RefreshHz), "ALR mode refresh rate (Hz)")
	alrTimeout := flag.Duration("alr-timeout", def.ALR.Timeout, "Inactivity before ALR steps down to WakeOnTouch")
	scanTime := flag.Duration("scan-time", def.Active.ScanTime, "Expected duration of one scan")
	activeProcess := flag.Duration("active-process", def.Active.ProcessTime, "Expected processing time in Active mode")
	alrProcess := flag.Duration("alr-process", def.ALR.ProcessTime, "Expected processing time in ALR mode")
	minTick := flag.Duration("min-tick", def.MinTick, "Smallest wake-timer period")
	ledOn := flag.Bool("led", def.OutputEnabled, "Drive the touch position LEDs")
	ledPins := flag.String("led-pins", "13,19", "BCM pins for the X and Y LEDs")
	tunerKind := flag.String("tuner", tunerOff, "Diagnostics link: off, mqtt or serial")
	broker := flag.String("broker", "", "MQTT broker address (empty to disable)")
	serialDev := flag.String("serial-dev", "/dev/ttyUSB0", "Serial device for -tuner serial")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate")
	i2cBus := flag.String("i2c-bus", "1", "I2C bus name or number")
	i2cAddr := flag.String("i2c-addr", "0x5A", "MPR121 I2C address")
	electrodes := flag.Uint("electrodes", uint(mprDefault.Electrodes), "Number of electrodes in use")
	columns := flag.Uint("columns", uint(mprDefault.Columns), "Electrodes running along X; the rest run along Y")
	lpSlots := flag.String("lp-slots", fmt.Sprintf("0x%03x", mprDefault.LowPower), "Electrode mask scanned in WakeOnTouch")
	httpAddr := flag.String("http", ":8080", "HTTP status address (empty to disable)")
	sim := flag.Bool("sim", false, "Run against a simulated controller")

	flag.Parse()

	opts, err := buildOptions(flagValues{
		activeHz: *activeHz, activeTimeout: *activeTimeout,
		alrHz: *alrHz, alrTimeout: *alrTimeout,
		scanTime: *scanTime, activeProcess: *activeProcess, alrProcess: *alrProcess,
		minTick: *minTick, led: *ledOn, ledPins: *ledPins,
		tuner: *tunerKind, broker: *broker, serialDev: *serialDev, serialBaud: *serialBaud,
		i2cBus: *i2cBus, i2cAddr: *i2cAddr, electrodes: *electrodes, columns: *columns, lpSlots: *lpSlots,
		httpAddr: *httpAddr, sim: *sim,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// flagValues holds raw flag values before validation.
type flagValues struct {
	activeHz, alrHz                              uint
	activeTimeout, alrTimeout                    time.Duration
	scanTime, activeProcess, alrProcess, minTick time.Duration
	led                                          bool
	ledPins                                      string
	tuner, broker, serialDev                     string
	serialBaud                                   int
	i2cBus, i2cAddr, lpSlots                     string
	electrodes, columns                          uint
	httpAddr                                     string
	sim                                          bool
}

func buildOptions(v flagValues) (options, error) {
	o := options{
		tuner:      v.tuner,
		broker:     v.broker,
		serialDev:  v.serialDev,
		serialBaud: v.serialBaud,
		i2cBus:     v.i2cBus,
		httpAddr:   v.httpAddr,
		sim:        v.sim,
	}

	if v.activeHz > math.MaxUint32 {
		return o, fmt.Errorf("-active-hz %d out of range", v.activeHz)
	}
	if v.alrHz > math.MaxUint32 {
		return o, fmt.Errorf("-alr-hz %d out of range", v.alrHz)
	}

	o.cfg = logic.Config{
		Active: logic.Profile{
			RefreshHz:   uint32(v.activeHz),
			Timeout:     v.activeTimeout,
			ScanTime:    v.scanTime,
			ProcessTime: v.activeProcess,
		},
		ALR: logic.Profile{
			RefreshHz:   uint32(v.alrHz),
			Timeout:     v.alrTimeout,
			ScanTime:    v.scanTime,
			ProcessTime: v.alrProcess,
		},
		MinTick:       v.minTick,
		OutputEnabled: v.led,
		TunerEnabled:  v.tuner != tunerOff,
	}
	if err := o.cfg.Validate(); err != nil {
		return o, err
	}

	switch v.tuner {
	case tunerOff, tunerSerial:
	case tunerMQTT:
		if v.broker == "" {
			return o, errors.New("-tuner mqtt requires -broker")
		}
	default:
		return o, fmt.Errorf("unknown tuner %q (want off, mqtt or serial)", v.tuner)
	}

	pins, err := parsePins(v.ledPins)
	if err != nil {
		return o, err
	}
	o.ledPins = pins

	addr, err := strconv.ParseUint(v.i2cAddr, 0, 16)
	if err != nil {
		return o, fmt.Errorf("parse -i2c-addr: %w", err)
	}
	mask, err := strconv.ParseUint(v.lpSlots, 0, 16)
	if err != nil {
		return o, fmt.Errorf("parse -lp-slots: %w", err)
	}
	if v.electrodes > 255 || v.columns > 255 {
		return o, fmt.Errorf("electrode counts out of range")
	}

	o.mpr121 = sense.DefaultMPR121Config()
	o.mpr121.Address = uint16(addr)
	o.mpr121.Electrodes = uint8(v.electrodes)
	o.mpr121.Columns = uint8(v.columns)
	o.mpr121.LowPower = uint16(mask)
	return o, nil
}

// parsePins parses "x,y" BCM pin numbers.
func parsePins(s string) ([2]int, error) {
	var pins [2]int
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return pins, fmt.Errorf("-led-pins wants two pins, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return pins, fmt.Errorf("invalid led pin %q", p)
		}
		pins[i] = n
	}
	if pins[0] == pins[1] {
		return pins, fmt.Errorf("led pins must differ, got %d twice", pins[0])
	}
	return pins, nil
}

func run(o options) error {
	ctl := irq.New()

	engine, closeEngine, engineName, err := openEngine(o, ctl)
	if err != nil {
		return fmt.Errorf("init sensing: %w", err)
	}
	defer closeEngine()

	var renderer led.Renderer
	if o.cfg.OutputEnabled {
		renderer, err = openRenderer(o)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		defer renderer.Close()
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		host, _ := os.Hostname()
		p := mqtt.NewRealPublisher(o.broker, "touch-power-"+host)
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	rates := make(chan tuner.RateRequest, 8)
	var bridge tuner.Bridge
	switch o.tuner {
	case tunerMQTT:
		bridge = tuner.NewMQTTBridge(publisher)
	case tunerSerial:
		port, err := tuner.OpenSerial(o.serialDev, o.serialBaud)
		if err != nil {
			return fmt.Errorf("init tuner: %w", err)
		}
		bridge = tuner.NewSerialBridge(port, func(m logic.Mode, hz uint32) {
			select {
			case rates <- tuner.RateRequest{Mode: m, Hz: hz}:
			default:
				log.Printf("tuner: rate request dropped, queue full")
			}
		})
	}
	if bridge != nil {
		defer bridge.Close()
	}

	transitions := make(chan logic.Transition, 16)
	sched, err := scheduler.New(o.cfg, engine, power.NewHost(ctl), scheduler.Options{
		Renderer: renderer,
		Bridge:   bridge,
		OnTransition: func(t logic.Transition) {
			select {
			case transitions <- t:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Engine:         engineName,
		ActiveHz:       o.cfg.Active.RefreshHz,
		ActiveTimeout:  o.cfg.Active.Timeout,
		ActiveInterval: logic.ProfileInterval(o.cfg.Active, o.cfg.MinTick),
		ALRHz:          o.cfg.ALR.RefreshHz,
		ALRTimeout:     o.cfg.ALR.Timeout,
		ALRInterval:    logic.ProfileInterval(o.cfg.ALR, o.cfg.MinTick),
		Output:         o.cfg.OutputEnabled,
		Tuner:          o.tuner,
		Broker:         o.broker,
		HTTPAddr:       o.httpAddr,
	})
	tracker.Update(sched.Stats())

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, sched)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: engine=%s active=%dHz/%v alr=%dHz/%v min-tick=%v led=%v tuner=%s",
		engineName, o.cfg.Active.RefreshHz, o.cfg.Active.Timeout, o.cfg.ALR.RefreshHz, o.cfg.ALR.Timeout,
		o.cfg.MinTick, o.cfg.OutputEnabled, o.tuner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		sched:       sched,
		publisher:   publisher,
		mqttStatus:  mqttStatus,
		tracker:     tracker,
		now:         time.Now,
		tick:        ticker.C,
		sig:         sigCh,
		transitions: transitions,
		rates:       rates,
		done:        done,
		stop:        cancel,
	})
}

// openEngine returns the sensing engine, a close function and its name for
// status output.
func openEngine(o options, ctl *irq.Controller) (sense.Engine, func(), string, error) {
	if o.sim {
		bus := sense.NewSimBus(o.mpr121.Address)
		bus.SetTouch(sense.TapPattern(time.Now, simTapPeriod, simTapHold, o.mpr121.Columns))
		e, err := sense.NewMPR121(bus, ctl, o.mpr121)
		if err != nil {
			return nil, nil, "", err
		}
		return e, func() { e.Close() }, "sim", nil
	}

	bus, err := sense.OpenI2C(o.i2cBus)
	if err != nil {
		return nil, nil, "", err
	}
	e, err := sense.NewMPR121(bus, ctl, o.mpr121)
	if err != nil {
		bus.Close()
		return nil, nil, "", err
	}
	return e, func() {
		e.Close()
		bus.Close()
	}, "mpr121", nil
}

func openRenderer(o options) (led.Renderer, error) {
	if o.sim {
		return led.NewLogRenderer(), nil
	}
	return led.NewGPIORenderer(gpioChip, o.ledPins[0], o.ledPins[1])
}

// statsSource is what runLoop needs from the scheduler.
type statsSource interface {
	Stats() scheduler.Stats
	SetRefreshRate(mode logic.Mode, hz uint32)
}

// loop bundles runLoop's collaborators and channels.
type loop struct {
	sched      statsSource
	publisher  mqtt.Publisher // nil when MQTT is disabled
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	now        func() time.Time

	tick        <-chan time.Time
	sig         <-chan os.Signal
	transitions <-chan logic.Transition
	rates       <-chan tuner.RateRequest
	done        <-chan error // scheduler Run result
	stop        func()       // cancels the scheduler
}

func runLoop(l loop) error {
	for {
		select {
		case s := <-l.sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			l.stop()
			if err := <-l.done; err != nil {
				log.Printf("scheduler stopped with error: %v", err)
			}

			l.refresh()
			event := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			l.publish(event, "shutdown")
			return nil

		case err := <-l.done:
			if err == nil {
				return errors.New("scheduler stopped unexpectedly")
			}
			return fmt.Errorf("scheduler: %w", err)

		case t := <-l.transitions:
			l.publish(mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "MODE",
				Reason:    scheduler.EdgeKey(t.From, t.To),
			}, "mode")

		case r := <-l.rates:
			l.sched.SetRefreshRate(r.Mode, r.Hz)

		case <-l.tick:
			l.refresh()
		}
	}
}

// refresh copies scheduler stats and connection state into the tracker.
func (l loop) refresh() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(l.sched.Stats())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l loop) publish(event mqtt.SystemEvent, what string) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", what, err)
		return
	}
	log.Printf("published %s event", what)
}
