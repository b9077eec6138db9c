package sense

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/logic"
)

// MPR121 register map (datasheet section 5).
const (
	regTouchStatusL = 0x00
	regTouchStatusH = 0x01
	regMHDR         = 0x2B
	regNHDR         = 0x2C
	regNCLR         = 0x2D
	regFDLR         = 0x2E
	regMHDF         = 0x2F
	regNHDF         = 0x30
	regNCLF         = 0x31
	regFDLF         = 0x32
	regNHDT         = 0x33
	regNCLT         = 0x34
	regFDLT         = 0x35
	regTouchTh0     = 0x41
	regReleaseTh0   = 0x42
	regDebounce     = 0x5B
	regConfig1      = 0x5C
	regConfig2      = 0x5D
	regECR          = 0x5E
	regAutoConfig0  = 0x7B
	regUpLimit      = 0x7D
	regLowLimit     = 0x7E
	regTargetLimit  = 0x7F
	regSoftReset    = 0x80

	softResetValue = 0x63
	config2Reset   = 0x24
	overCurrent    = 0x80 // bit 7 of touch status high byte
	maxElectrodes  = 12
)

// DefaultAddress is the MPR121 address with ADDR tied to ground.
const DefaultAddress = 0x5A

// ErrOverCurrent is reported when the controller flags over-current on REXT.
var ErrOverCurrent = errors.New("mpr121: over-current detected")

// MPR121Config describes how the electrodes are wired.
type MPR121Config struct {
	Address    uint16
	Electrodes uint8  // electrodes 0..Electrodes-1 are scanned
	Columns    uint8  // electrodes [0, Columns) run along X, the rest along Y
	LowPower   uint16 // electrodes scanned in wake-on-touch
	TouchTh    uint8
	ReleaseTh  uint8
}

// DefaultMPR121Config is a 6x6 touchpad that wakes on electrode 0.
func DefaultMPR121Config() MPR121Config {
	return MPR121Config{
		Address:    DefaultAddress,
		Electrodes: maxElectrodes,
		Columns:    6,
		LowPower:   0x0001,
		TouchTh:    12,
		ReleaseTh:  6,
	}
}

func (c MPR121Config) validate() error {
	if c.Electrodes == 0 || c.Electrodes > maxElectrodes {
		return fmt.Errorf("mpr121: electrodes must be 1..%d, got %d", maxElectrodes, c.Electrodes)
	}
	if c.Columns > c.Electrodes {
		return fmt.Errorf("mpr121: %d columns exceed %d electrodes", c.Columns, c.Electrodes)
	}
	all := uint16(1)<<c.Electrodes - 1
	if c.LowPower == 0 || c.LowPower&^all != 0 {
		return fmt.Errorf("mpr121: low-power slots 0x%03x outside electrodes 0x%03x", c.LowPower, all)
	}
	if c.ReleaseTh >= c.TouchTh {
		return fmt.Errorf("mpr121: release threshold %d must be below touch threshold %d", c.ReleaseTh, c.TouchTh)
	}
	return nil
}

// MPR121 is an Engine backed by an MPR121 capacitive controller. Each scan
// waits for the wake-timer period, reads the touch status and delivers the
// result through ctl as a completion interrupt.
type MPR121 struct {
	bus drivers.I2C
	cfg MPR121Config
	ctl *irq.Controller

	// after schedules the end of the wake-timer period.
	after func(time.Duration, func())

	busy atomic.Bool

	mu       sync.Mutex // completion handler vs main loop
	period   time.Duration
	raw      uint16
	rawErr   error
	lpActive bool
	touched  uint16
	touch    TouchState
}

// NewMPR121 configures the controller and returns an idle engine.
func NewMPR121(bus drivers.I2C, ctl *irq.Controller, cfg MPR121Config) (*MPR121, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &MPR121{
		bus: bus,
		cfg: cfg,
		ctl: ctl,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	if err := e.configure(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *MPR121) configure() error {
	if err := e.write(regSoftReset, softResetValue); err != nil {
		return fmt.Errorf("mpr121: reset: %w", err)
	}
	time.Sleep(time.Millisecond)

	if err := e.write(regECR, 0x00); err != nil {
		return fmt.Errorf("mpr121: stop: %w", err)
	}
	cfg2, err := e.read(regConfig2)
	if err != nil {
		return fmt.Errorf("mpr121: read config2: %w", err)
	}
	if cfg2 != config2Reset {
		return fmt.Errorf("mpr121: unexpected config2 0x%02x at 0x%02x", cfg2, e.cfg.Address)
	}

	seq := make([][2]byte, 0, 2*maxElectrodes+16)
	for i := uint8(0); i < maxElectrodes; i++ {
		seq = append(seq,
			[2]byte{regTouchTh0 + 2*i, e.cfg.TouchTh},
			[2]byte{regReleaseTh0 + 2*i, e.cfg.ReleaseTh})
	}
	seq = append(seq,
		// Baseline filter: rising, falling, touched.
		[2]byte{regMHDR, 0x01}, [2]byte{regNHDR, 0x01}, [2]byte{regNCLR, 0x0E}, [2]byte{regFDLR, 0x00},
		[2]byte{regMHDF, 0x01}, [2]byte{regNHDF, 0x05}, [2]byte{regNCLF, 0x01}, [2]byte{regFDLF, 0x00},
		[2]byte{regNHDT, 0x00}, [2]byte{regNCLT, 0x00}, [2]byte{regFDLT, 0x00},
		[2]byte{regDebounce, 0x00},
		[2]byte{regConfig1, 0x10}, // 16uA charge current
		[2]byte{regConfig2, 0x20}, // 0.5us charge time
		// Auto-configuration limits for 3.3V.
		[2]byte{regAutoConfig0, 0x0B},
		[2]byte{regUpLimit, 200}, [2]byte{regTargetLimit, 180}, [2]byte{regLowLimit, 130},
		// Run mode with baseline tracking.
		[2]byte{regECR, 0x80 | e.cfg.Electrodes},
	)
	for _, kv := range seq {
		if err := e.write(kv[0], kv[1]); err != nil {
			return fmt.Errorf("mpr121: write 0x%02x: %w", kv[0], err)
		}
	}
	return nil
}

// Close puts the controller into stop mode.
func (e *MPR121) Close() error {
	return e.write(regECR, 0x00)
}

// Scan starts a scan after the configured wake-timer period.
func (e *MPR121) Scan(slots logic.SlotSet) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	e.mu.Lock()
	period := e.period
	e.mu.Unlock()

	e.after(period, func() {
		raw, err := e.readStatus()
		e.ctl.Raise(func() { e.complete(raw, err) })
	})
	return nil
}

// complete runs as the scan-completion interrupt handler.
func (e *MPR121) complete(raw uint16, err error) {
	e.mu.Lock()
	e.raw = raw
	e.rawErr = err
	e.lpActive = err == nil && raw&e.cfg.LowPower != 0
	e.mu.Unlock()
	e.busy.Store(false)
}

func (e *MPR121) IsBusy() bool {
	return e.busy.Load()
}

// Process decodes the last touch status into slot and position results.
func (e *MPR121) Process(slots logic.SlotSet) error {
	if e.busy.Load() {
		return ErrBusy
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rawErr != nil {
		return fmt.Errorf("read touch status: %w", e.rawErr)
	}
	e.touched = e.raw & e.mask(slots)
	e.touch = e.decode(e.touched)
	return nil
}

func (e *MPR121) IsAnyActive(slots logic.SlotSet) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.touched&e.mask(slots) != 0
}

func (e *MPR121) IsAnyLowPowerActive(slots logic.SlotSet) bool {
	if e.busy.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lpActive
}

// ScanErr returns the status-read error of the last completed scan, or nil
// while a scan is in flight.
func (e *MPR121) ScanErr() error {
	if e.busy.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rawErr != nil {
		return fmt.Errorf("read touch status: %w", e.rawErr)
	}
	return nil
}

// ConfigureWakeTimer sets the delay before each scan starts. The timer is
// owned by the main loop and must not change under a scan in flight.
func (e *MPR121) ConfigureWakeTimer(period time.Duration) error {
	if period <= 0 {
		return ErrPeriod
	}
	if e.busy.Load() {
		return ErrBusy
	}
	e.mu.Lock()
	e.period = period
	e.mu.Unlock()
	return nil
}

func (e *MPR121) Touch() TouchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.touch
}

func (e *MPR121) mask(slots logic.SlotSet) uint16 {
	if slots == logic.SlotsLowPower {
		return e.cfg.LowPower
	}
	return uint16(1)<<e.cfg.Electrodes - 1
}

// decode turns the touched bitmask into a position: X is the centroid of the
// touched column electrodes, Y of the touched row electrodes, both 0..255.
func (e *MPR121) decode(touched uint16) TouchState {
	cols := e.cfg.Columns
	rows := e.cfg.Electrodes - cols
	return TouchState{
		Active: touched != 0,
		Slots:  touched,
		X:      centroid(touched&(uint16(1)<<cols-1), cols),
		Y:      centroid(touched>>cols&(uint16(1)<<rows-1), rows),
	}
}

func centroid(bits uint16, n uint8) uint8 {
	if n < 2 || bits == 0 {
		return 0
	}
	var sum, count uint32
	for i := uint8(0); i < n; i++ {
		if bits&(1<<i) != 0 {
			sum += uint32(i)
			count++
		}
	}
	return uint8(sum * 255 / (count * uint32(n-1)))
}

func (e *MPR121) readStatus() (uint16, error) {
	buf := make([]byte, 2)
	if err := e.bus.Tx(e.cfg.Address, []byte{regTouchStatusL}, buf); err != nil {
		return 0, err
	}
	if buf[1]&overCurrent != 0 {
		return 0, ErrOverCurrent
	}
	return uint16(buf[0]) | uint16(buf[1]&0x0F)<<8, nil
}

func (e *MPR121) write(reg, val byte) error {
	return e.bus.Tx(e.cfg.Address, []byte{reg, val}, nil)
}

func (e *MPR121) read(reg byte) (byte, error) {
	buf := []byte{0}
	if err := e.bus.Tx(e.cfg.Address, []byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
