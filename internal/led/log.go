package led

import (
	"log"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// LogRenderer prints LED changes instead of driving hardware. Used in
// simulation runs.
type LogRenderer struct {
	x, y   bool
	rearms int
}

// NewLogRenderer creates a LogRenderer with both LEDs off.
func NewLogRenderer() *LogRenderer {
	return &LogRenderer{}
}

func (r *LogRenderer) Render(mode logic.Mode, touch sense.TouchState) error {
	x, y := Levels(touch)
	if x != r.x || y != r.y {
		log.Printf("led: x=%s y=%s (mode=%s pos=%d,%d)", onOff(x), onOff(y), mode, touch.X, touch.Y)
		r.x, r.y = x, y
	}
	return nil
}

func (r *LogRenderer) Rearm() error {
	r.rearms++
	log.Printf("led: output re-armed (%d)", r.rearms)
	return nil
}

func (r *LogRenderer) Close() error {
	r.x, r.y = false, false
	return nil
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
