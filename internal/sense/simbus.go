package sense

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*SimBus)(nil)

// SimBus emulates an MPR121 register file behind drivers.I2C. Touch supplies
// the electrodes currently touched.
type SimBus struct {
	mu      sync.Mutex
	address uint16
	regs    [256]byte

	// Touch returns the touched electrode bitmask on each status read.
	Touch func() uint16

	// Err, if set, is returned by every transfer.
	Err error

	// Writes records register writes in order.
	Writes [][2]byte
}

// NewSimBus creates a bus with one emulated controller at address.
func NewSimBus(address uint16) *SimBus {
	s := &SimBus{address: address}
	s.reset()
	return s
}

// SetTouch replaces the touch source.
func (s *SimBus) SetTouch(f func() uint16) {
	s.mu.Lock()
	s.Touch = f
	s.mu.Unlock()
}

// Reg returns the current value of a register.
func (s *SimBus) Reg(reg byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

func (s *SimBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if addr != s.address {
		return fmt.Errorf("sim i2c: no device at 0x%02x", addr)
	}
	if len(w) == 0 {
		return nil
	}
	reg := w[0]
	for i, v := range w[1:] {
		s.write(reg+byte(i), v)
	}
	if len(r) > 0 {
		status := s.status()
		for i := range r {
			switch rr := reg + byte(i); rr {
			case regTouchStatusL:
				r[i] = byte(status)
			case regTouchStatusH:
				r[i] = byte(status >> 8)
			default:
				r[i] = s.regs[rr]
			}
		}
	}
	return nil
}

func (s *SimBus) write(reg, v byte) {
	s.Writes = append(s.Writes, [2]byte{reg, v})
	if reg == regSoftReset && v == softResetValue {
		s.reset()
		return
	}
	s.regs[reg] = v
}

func (s *SimBus) reset() {
	s.regs = [256]byte{}
	s.regs[regConfig2] = config2Reset
}

// status reports touches only on enabled electrodes while in run mode.
func (s *SimBus) status() uint16 {
	n := s.regs[regECR] & 0x0F
	if n == 0 || s.Touch == nil {
		return 0
	}
	return s.Touch() & (uint16(1)<<n - 1)
}

// TapPattern returns a touch source that holds a touch for hold at the start of
// every period, walking the touched column across the pad on each tap.
// Electrode 0 is always part of the tap so wake-on-touch sees it.
func TapPattern(now func() time.Time, period, hold time.Duration, columns uint8) func() uint16 {
	start := now()
	return func() uint16 {
		if columns == 0 || period <= 0 {
			return 0
		}
		el := now().Sub(start)
		if el%period >= hold {
			return 0
		}
		n := uint8(el/period) % columns
		return 1 | uint16(1)<<n | uint16(1)<<(columns+n)
	}
}
