// Package led renders touch position on two indicator LEDs.
// The real implementation drives Linux GPIO character-device lines.
// The fake implementation allows testing without hardware.
package led

import (
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// Renderer is the auxiliary output. Failures never affect scheduling.
type Renderer interface {
	// Render shows the latest touch state. Called once per scheduler iteration.
	Render(mode logic.Mode, touch sense.TouchState) error

	// Rearm re-initialises the output after a low-power mode left it disabled.
	Rearm() error

	// Close turns the LEDs off and releases resources.
	Close() error
}

// Full brightness; an LED is lit from half brightness up.
const (
	MaxBrightness = 255
	onThreshold   = 128
)

// Brightness maps a touch to LED brightness: the X LED follows the finger left
// to right, the Y LED bottom to top. Both are dark without a touch.
func Brightness(touch sense.TouchState) (x, y uint8) {
	if !touch.Active {
		return 0, 0
	}
	return touch.X, MaxBrightness - touch.Y
}

// Levels reduces Brightness to on/off for outputs without PWM.
func Levels(touch sense.TouchState) (x, y bool) {
	bx, by := Brightness(touch)
	return bx >= onThreshold, by >= onThreshold
}
