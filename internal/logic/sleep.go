package logic

// SelectSleep picks the wait state for a scan in flight. Shallow sleep keeps the
// output clocks running, so it is only chosen in Active mode with output enabled.
func SelectSleep(m Mode, outputEnabled bool) SleepDepth {
	if m == ModeActive && outputEnabled {
		return SleepShallow
	}
	return SleepDeep
}
