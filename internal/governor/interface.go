package governor

import (
	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/logger"
)

// IdleSource reports a core's cumulative idle time and a timestamp from the
// same clock, both in microseconds. Both must never decrease.
type IdleSource interface {
	ReadIdle(c cpufreq.CPU) (idleUS, timestampUS uint64, err error)
}

// Ceilings reduces a domain's maximum according to external power state.
type Ceilings interface {
	Ceiling(maxFreq cpufreq.Frequency) cpufreq.Frequency
}

// Recorder is told about every frequency applied to a domain. It must not
// block.
type Recorder interface {
	RecordTransition(d *cpufreq.Domain, c cpufreq.CPU, from, to cpufreq.Frequency)
}

// CoreStatus is a point-in-time view of one core.
type CoreStatus struct {
	CPU     cpufreq.CPU
	Target  cpufreq.Frequency
	Idling  bool
	Pending bool
}

// DomainStatus is a point-in-time view of one active domain.
type DomainStatus struct {
	Domain  *cpufreq.Domain
	Applied cpufreq.Frequency
	Limits  cpufreq.Limits
	Ceiling cpufreq.Frequency
	Cores   []CoreStatus
}

// Option configures a Governor.
type Option func(*options)

type options struct {
	logger   logger.Logger
	ceilings Ceilings
	recorder Recorder
	realtime bool
	tunables *Tunables
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSignals sets the source of power-saving and suspend ceilings.
func WithSignals(c Ceilings) Option {
	return func(o *options) {
		o.ceilings = c
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithRealtime makes Run give the scale-up worker SCHED_FIFO priority.
// Run fails with ErrRealtime if the priority cannot be set.
func WithRealtime(enabled bool) Option {
	return func(o *options) {
		o.realtime = enabled
	}
}

func WithTunables(t *Tunables) Option {
	return func(o *options) {
		o.tunables = t
	}
}

type noCeilings struct{}

func (noCeilings) Ceiling(maxFreq cpufreq.Frequency) cpufreq.Frequency { return maxFreq }

type noopRecorder struct{}

func (noopRecorder) RecordTransition(*cpufreq.Domain, cpufreq.CPU, cpufreq.Frequency, cpufreq.Frequency) {
}
