package scrape

import (
	"sync/atomic"
	"time"
)

// Flag is a level-triggered control signal shared by reference between the
// orchestrator and an in-flight scraper. Pause/resume must flip the same
// instance the worker is watching, never a reconstructed copy.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Set()        { f.v.Store(true) }
func (f *Flag) Clear()      { f.v.Store(false) }
func (f *Flag) IsSet() bool { return f.v.Load() }

// ControlFlags is the pause/cancel pair owned by one task.
type ControlFlags struct {
	Pause  *Flag
	Cancel *Flag
}

func NewControlFlags() *ControlFlags {
	return &ControlFlags{Pause: &Flag{}, Cancel: &Flag{}}
}

// Decision is the outcome of a safe-point check.
type Decision int

const (
	Continue Decision = iota
	Paused
	Cancelled
)

// pollInterval is how often a paused worker re-checks its flags.
const pollInterval = 100 * time.Millisecond

// Check is the non-blocking flag read. Cancel dominates pause.
func (c *ControlFlags) Check() Decision {
	if c.Cancel.IsSet() {
		return Cancelled
	}
	if c.Pause.IsSet() {
		return Paused
	}
	return Continue
}

// Wait blocks while the task is paused and returns Continue once the pause
// clears or Cancelled when the cancel flag fires. The watchdog may flip
// cancel while a worker sits here.
func (c *ControlFlags) Wait() Decision {
	for {
		switch c.Check() {
		case Cancelled:
			return Cancelled
		case Continue:
			return Continue
		}
		time.Sleep(pollInterval)
	}
}
