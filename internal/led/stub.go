//go:build !linux

package led

import (
	"errors"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// GPIORenderer is not available on non-Linux platforms.
type GPIORenderer struct{}

// NewGPIORenderer returns an error on non-Linux platforms.
func NewGPIORenderer(chip string, pinX, pinY int) (*GPIORenderer, error) {
	return nil, errors.New("led: gpio not supported on this platform (requires Linux)")
}

func (r *GPIORenderer) Render(logic.Mode, sense.TouchState) error {
	return errors.New("led: not supported")
}

func (r *GPIORenderer) Rearm() error { return errors.New("led: not supported") }
func (r *GPIORenderer) Close() error { return nil }
