package logic

import "time"

// Interval derives the wake-timer period for a mode: the frame period minus the
// time spent scanning and processing, never below minTick.
//
// A zero refresh rate has no frame period; minTick is returned.
func Interval(refreshHz uint32, scanTime, processTime, minTick time.Duration) time.Duration {
	if refreshHz == 0 {
		return minTick
	}
	period := time.Second/time.Duration(refreshHz) - (scanTime + processTime)
	if period < minTick {
		return minTick
	}
	return period
}

// ProfileInterval is Interval applied to a Profile.
func ProfileInterval(p Profile, minTick time.Duration) time.Duration {
	return Interval(p.RefreshHz, p.ScanTime, p.ProcessTime, minTick)
}
