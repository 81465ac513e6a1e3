// Package policy holds the externally signalled power state the governor
// consults when choosing a frequency ceiling.
package policy

import (
	"sync/atomic"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
)

// Signals is safe for concurrent use. The zero value has both modes off and
// no reduced ceilings.
type Signals struct {
	powerSaving  atomic.Bool
	suspended    atomic.Bool
	powerSaveMax atomic.Uint64
	sleepMax     atomic.Uint64
}

// Update is a complete set of signal values, as read from configuration.
type Update struct {
	PowerSaving  bool
	Suspended    bool
	PowerSaveMax cpufreq.Frequency
	SleepMax     cpufreq.Frequency
}

func New() *Signals {
	return &Signals{}
}

func (s *Signals) PowerSaving() bool { return s.powerSaving.Load() }
func (s *Signals) Suspended() bool   { return s.suspended.Load() }

// PowerSaveMax is the ceiling in power-saving mode, 0 for none.
func (s *Signals) PowerSaveMax() cpufreq.Frequency {
	return cpufreq.Frequency(s.powerSaveMax.Load())
}

// SleepMax is the ceiling while suspended, 0 for none.
func (s *Signals) SleepMax() cpufreq.Frequency {
	return cpufreq.Frequency(s.sleepMax.Load())
}

func (s *Signals) SetPowerSaving(on bool) { s.powerSaving.Store(on) }
func (s *Signals) SetSuspended(on bool)   { s.suspended.Store(on) }

func (s *Signals) SetPowerSaveMax(f cpufreq.Frequency) { s.powerSaveMax.Store(uint64(f)) }
func (s *Signals) SetSleepMax(f cpufreq.Frequency)     { s.sleepMax.Store(uint64(f)) }

// Apply stores every value of u. Ceilings are written before the mode flags
// so a reader seeing a mode switched on also sees its ceiling.
func (s *Signals) Apply(u Update) {
	s.SetPowerSaveMax(u.PowerSaveMax)
	s.SetSleepMax(u.SleepMax)
	s.SetPowerSaving(u.PowerSaving)
	s.SetSuspended(u.Suspended)
}

// Ceiling returns maxFreq reduced by whichever mode is active. Suspend
// takes precedence over power saving. A zero reduced ceiling means no clamp.
func (s *Signals) Ceiling(maxFreq cpufreq.Frequency) cpufreq.Frequency {
	ceiling := maxFreq

	if s.PowerSaving() && !s.Suspended() {
		if limit := s.PowerSaveMax(); limit > 0 && limit < ceiling {
			ceiling = limit
		}
	}

	if s.Suspended() {
		if limit := s.SleepMax(); limit > 0 && limit < ceiling {
			ceiling = limit
		}
	}

	return ceiling
}
