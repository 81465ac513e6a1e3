package governor

import (
	"sync/atomic"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
)

const (
	DefaultGoHispeedLoad = 95
	DefaultMinSampleTime = 20000
	DefaultTimerRate     = 20000
	DefaultBoostFactor   = 2
)

// TunableValues is a plain copy of every tunable. Times are microseconds.
type TunableValues struct {
	GoHispeedLoad uint64
	MinSampleTime uint64
	TimerRate     uint64
	HispeedFreq   cpufreq.Frequency
	BoostFactor   uint64
}

func DefaultTunableValues() TunableValues {
	return TunableValues{
		GoHispeedLoad: DefaultGoHispeedLoad,
		MinSampleTime: DefaultMinSampleTime,
		TimerRate:     DefaultTimerRate,
		BoostFactor:   DefaultBoostFactor,
	}
}

// Tunables are the process-wide policy parameters. Every sampler reads them
// on each run, so updates take effect on the next sample.
type Tunables struct {
	goHispeedLoad atomic.Uint64
	minSampleTime atomic.Uint64
	timerRate     atomic.Uint64
	hispeedFreq   atomic.Uint64
	boostFactor   atomic.Uint64
}

// NewTunables builds Tunables from v. A zero boost factor is raised to 1 and
// a zero timer rate replaced by the default, since neither can drive the
// sampler.
func NewTunables(v TunableValues) *Tunables {
	if v.BoostFactor == 0 {
		v.BoostFactor = 1
	}
	if v.TimerRate == 0 {
		v.TimerRate = DefaultTimerRate
	}

	t := &Tunables{}
	t.store(v)

	return t
}

func (t *Tunables) store(v TunableValues) {
	t.goHispeedLoad.Store(v.GoHispeedLoad)
	t.minSampleTime.Store(v.MinSampleTime)
	t.timerRate.Store(v.TimerRate)
	t.hispeedFreq.Store(uint64(v.HispeedFreq))
	t.boostFactor.Store(v.BoostFactor)
}

// Apply replaces every tunable, or none if v is invalid.
func (t *Tunables) Apply(v TunableValues) error {
	if err := validate(v); err != nil {
		return err
	}

	t.store(v)

	return nil
}

func validate(v TunableValues) error {
	errFactory := errors.New()

	if v.BoostFactor == 0 {
		return errFactory.WithData(ErrInvalidTunable, "boost_factor=0")
	}
	if v.TimerRate == 0 {
		return errFactory.WithData(ErrInvalidTunable, "timer_rate=0")
	}

	return nil
}

func (t *Tunables) Values() TunableValues {
	return TunableValues{
		GoHispeedLoad: t.GoHispeedLoad(),
		MinSampleTime: t.MinSampleTime(),
		TimerRate:     t.TimerRate(),
		HispeedFreq:   t.HispeedFreq(),
		BoostFactor:   t.BoostFactor(),
	}
}

func (t *Tunables) GoHispeedLoad() uint64          { return t.goHispeedLoad.Load() }
func (t *Tunables) MinSampleTime() uint64          { return t.minSampleTime.Load() }
func (t *Tunables) TimerRate() uint64              { return t.timerRate.Load() }
func (t *Tunables) HispeedFreq() cpufreq.Frequency { return cpufreq.Frequency(t.hispeedFreq.Load()) }
func (t *Tunables) BoostFactor() uint64            { return t.boostFactor.Load() }

func (t *Tunables) SetGoHispeedLoad(v uint64)          { t.goHispeedLoad.Store(v) }
func (t *Tunables) SetMinSampleTime(v uint64)          { t.minSampleTime.Store(v) }
func (t *Tunables) SetHispeedFreq(v cpufreq.Frequency) { t.hispeedFreq.Store(uint64(v)) }

func (t *Tunables) SetTimerRate(v uint64) error {
	if v == 0 {
		return errors.New().WithData(ErrInvalidTunable, "timer_rate=0")
	}
	t.timerRate.Store(v)

	return nil
}

// SetBoostFactor rejects zero: a zero factor would collapse every boosted
// target to nothing.
func (t *Tunables) SetBoostFactor(v uint64) error {
	if v == 0 {
		return errors.New().WithData(ErrInvalidTunable, "boost_factor=0")
	}
	t.boostFactor.Store(v)

	return nil
}

// seedHispeed sets the hispeed frequency to f if it has not been set yet.
func (t *Tunables) seedHispeed(f cpufreq.Frequency) {
	t.hispeedFreq.CompareAndSwap(0, uint64(f))
}
