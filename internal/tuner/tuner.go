// Package tuner exchanges diagnostics with an external tuning host after each
// scheduler iteration, and accepts refresh-rate adjustments back.
package tuner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// State is the snapshot handed to the bridge once per iteration.
type State struct {
	Time      time.Time
	Mode      logic.Mode
	Budget    uint32
	Interval  time.Duration
	Iteration uint64
	Touch     sense.TouchState
}

// Bridge is the diagnostics channel. Exchange must not block the scheduler for
// longer than a write; failures are logged by the caller and otherwise ignored.
type Bridge interface {
	Exchange(s State) error
	Close() error
}

// RateFunc receives refresh-rate requests from the tuning host.
type RateFunc func(mode logic.Mode, hz uint32)

// RateRequest is a parsed "R <mode> <hz>" command.
type RateRequest struct {
	Mode logic.Mode
	Hz   uint32
}

// ParseCommand parses one command line from the tuning host.
func ParseCommand(line string) (RateRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return RateRequest{}, fmt.Errorf("empty command")
	}
	if fields[0] != "R" {
		return RateRequest{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if len(fields) != 3 {
		return RateRequest{}, fmt.Errorf("rate command wants 2 arguments, got %d", len(fields)-1)
	}

	mode, err := logic.ParseMode(fields[1])
	if err != nil {
		return RateRequest{}, err
	}
	hz, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return RateRequest{}, fmt.Errorf("parse rate: %w", err)
	}
	if hz == 0 {
		return RateRequest{}, fmt.Errorf("rate must be positive")
	}
	return RateRequest{Mode: mode, Hz: uint32(hz)}, nil
}

// FormatLine renders s as one telemetry line:
//
//	T <iteration> <unix ms> <mode> <budget> <interval us> <slots hex> <x> <y>
func FormatLine(s State) string {
	return fmt.Sprintf("T %d %d %s %d %d %03x %d %d\n",
		s.Iteration,
		s.Time.UnixMilli(),
		s.Mode,
		s.Budget,
		s.Interval.Microseconds(),
		s.Touch.Slots,
		s.Touch.X,
		s.Touch.Y,
	)
}
