package governor

import (
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
)

// minWindowUS is the shortest sampling window a load is computed over.
const minWindowUS = 1000

func (g *Governor) timerRate() time.Duration {
	return time.Duration(g.tunables.TimerRate()) * time.Microsecond
}

// sample is the timer callback of a core.
func (g *Governor) sample(c *core, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		return
	}
	c.pending = false

	if !c.enabled.Load() {
		return
	}

	nowIdle, now, err := g.idle.ReadIdle(c.cpu)
	if err != nil {
		g.logger.Warn().Err(err).Uint("cpu", uint(c.cpu)).Msg("Failed to read idle time")
		g.rearm(c, c.idleSnapshot, c.idleSampleTS)
		return
	}
	c.lastSampleTS = now

	// Cancelled while idle after this callback had already fired.
	if c.idleSampleTS == 0 {
		return
	}

	window := since(now, c.idleSampleTS)
	if window < minWindowUS {
		g.rearm(c, nowIdle, now)
		return
	}

	load := loadPercent(since(nowIdle, c.idleSnapshot), window)
	if long := loadPercent(since(nowIdle, c.changeIdle), since(now, c.changeTS)); long > load {
		load = long
	}

	dom := c.domain
	floor, ceiling := dom.bounds(g.ceilings)

	target, err := dom.policy.Table.Snap(g.rawTarget(dom, load, floor, ceiling), floor, ceiling, cpufreq.RoundUp)
	if err != nil {
		if c.warnedLookup.CompareAndSwap(false, true) {
			g.logger.Warn().Err(err).Uint("cpu", uint(c.cpu)).Msg("No table frequency for target")
		}
		g.rearm(c, nowIdle, now)
		return
	}

	current := c.targetFreq()
	if target != current {
		if target < current && since(now, c.changeTS) < g.tunables.MinSampleTime() {
			g.rearm(c, nowIdle, now)
			return
		}

		c.target.Store(uint64(target))
		c.changeTS, c.changeIdle = now, nowIdle

		g.logger.Debug().
			Uint("cpu", uint(c.cpu)).
			Uint64("load", load).
			Uint64("from", uint64(current)).
			Uint64("to", uint64(target)).
			Msg("Target changed")

		if target < current {
			g.up.remove(c.cpu)
			g.down.add(c.cpu)
		} else {
			g.down.remove(c.cpu)
			g.up.add(c.cpu)
		}
	}

	// At the ceiling there is no headroom left; idle hooks and limit
	// changes restart sampling.
	if c.targetFreq() == ceiling {
		return
	}

	g.rearm(c, nowIdle, now)
}

// rawTarget picks the unsnapped frequency for a load.
func (g *Governor) rawTarget(dom *domain, load uint64, floor, ceiling cpufreq.Frequency) cpufreq.Frequency {
	if load >= g.tunables.GoHispeedLoad() {
		applied := dom.appliedFreq()
		if applied == floor {
			return g.tunables.HispeedFreq()
		}
		return applied * cpufreq.Frequency(g.tunables.BoostFactor())
	}

	return ceiling * cpufreq.Frequency(load) / 100
}

// rearm opens a window at the given reading and schedules the next sample
// unless one is pending. A core at the floor that is idling is left
// unarmed; otherwise a timer at the floor may be cancelled on idle entry.
// c.mu must be held.
func (g *Governor) rearm(c *core, idleUS, ts uint64) {
	if c.pending {
		return
	}

	floor, _ := c.domain.bounds(g.ceilings)
	c.idleCancelable = false
	if c.targetFreq() == floor {
		if c.idling.Load() {
			return
		}
		c.idleCancelable = true
	}

	c.openWindow(idleUS, ts)
	c.arm(g.timerRate(), g.sample)
}
