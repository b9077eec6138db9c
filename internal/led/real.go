//go:build linux

package led

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// GPIORenderer lights LEDs on GPIO character-device lines.
type GPIORenderer struct {
	chip *gpiocdev.Chip
	x    *gpiocdev.Line
	y    *gpiocdev.Line
}

// NewGPIORenderer requests pinX and pinY on chip as outputs, initially off.
func NewGPIORenderer(chip string, pinX, pinY int) (*GPIORenderer, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	x, err := c.RequestLine(pinX, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request X led pin %d: %w", pinX, err)
	}

	y, err := c.RequestLine(pinY, gpiocdev.AsOutput(0))
	if err != nil {
		x.Close()
		c.Close()
		return nil, fmt.Errorf("request Y led pin %d: %w", pinY, err)
	}

	return &GPIORenderer{chip: c, x: x, y: y}, nil
}

// Render sets each LED from the touch position.
func (r *GPIORenderer) Render(_ logic.Mode, touch sense.TouchState) error {
	lx, ly := Levels(touch)
	if err := r.x.SetValue(boolToInt(lx)); err != nil {
		return fmt.Errorf("set X led: %w", err)
	}
	if err := r.y.SetValue(boolToInt(ly)); err != nil {
		return fmt.Errorf("set Y led: %w", err)
	}
	return nil
}

// Rearm reconfigures both lines as outputs, off.
func (r *GPIORenderer) Rearm() error {
	if err := r.x.Reconfigure(gpiocdev.AsOutput(0)); err != nil {
		return fmt.Errorf("rearm X led: %w", err)
	}
	if err := r.y.Reconfigure(gpiocdev.AsOutput(0)); err != nil {
		return fmt.Errorf("rearm Y led: %w", err)
	}
	return nil
}

// Close turns the LEDs off and returns the lines to inputs so nothing is
// left driven across a restart.
func (r *GPIORenderer) Close() error {
	var errs []error

	for name, l := range map[string]*gpiocdev.Line{"X": r.x, "Y": r.y} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s led: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s led: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
