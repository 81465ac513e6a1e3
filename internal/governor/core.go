package governor

import (
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
)

// core is the sampling state of one CPU. The fields under mu are touched
// by the core's sampler, its idle hooks and lifecycle calls; target,
// enabled and idling are also read lock-free by the workers.
type core struct {
	cpu    cpufreq.CPU
	domain *domain

	enabled atomic.Bool
	idling  atomic.Bool
	target  atomic.Uint64

	mu sync.Mutex
	// timer is replaced on every arm; seq tags the live one so a stale
	// callback can tell it lost a race with a cancel or re-arm.
	timer          *time.Timer
	seq            uint64
	pending        bool
	idleCancelable bool

	// start of the current sampling window
	idleSnapshot uint64
	idleSampleTS uint64
	// when the sampler last ran
	lastSampleTS uint64
	// baseline for the load since the last frequency change
	changeTS   uint64
	changeIdle uint64

	warnedLookup atomic.Bool
}

func newCore(cpu cpufreq.CPU, dom *domain) *core {
	return &core{cpu: cpu, domain: dom}
}

func (c *core) targetFreq() cpufreq.Frequency {
	return cpufreq.Frequency(c.target.Load())
}

// arm schedules the next sample. c.mu must be held.
func (c *core) arm(rate time.Duration, fire func(c *core, seq uint64)) {
	if c.timer != nil {
		c.timer.Stop()
	}

	c.seq++
	seq := c.seq
	c.pending = true
	c.timer = time.AfterFunc(rate, func() { fire(c, seq) })
}

// disarm cancels the pending sample, if any. A callback already running
// still holds the current seq and relies on idleSampleTS being cleared by
// the caller. c.mu must be held.
func (c *core) disarm() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = false
}

// retire invalidates every callback issued so far. c.mu must be held.
func (c *core) retire() {
	c.disarm()
	c.seq++
	c.idleSampleTS = 0
	c.idleCancelable = false
}

// openWindow starts a new sampling window at the given reading.
// c.mu must be held.
func (c *core) openWindow(idleUS, ts uint64) {
	c.idleSnapshot = idleUS
	c.idleSampleTS = ts
}

// loadPercent is the busy share of elapsed time, 0 when idle exceeds it.
func loadPercent(idle, elapsed uint64) uint64 {
	if elapsed == 0 || idle > elapsed {
		return 0
	}

	return 100 * (elapsed - idle) / elapsed
}

// since returns now-then, or 0 if the clock went backwards.
func since(now, then uint64) uint64 {
	if now < then {
		return 0
	}
	return now - then
}
