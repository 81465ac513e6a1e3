package governor

import "codeberg.org/mutker/cpufreqd/internal/cpufreq"

// IdleStart is called when cpu enters idle. A core above the floor gets a
// sample covering the load up to now; a core at the floor drops its
// cancelable timer.
func (g *Governor) IdleStart(cpu cpufreq.CPU) {
	c := g.lookup(cpu)
	if c == nil || !c.enabled.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.idling.Store(true)

	floor, _ := c.domain.bounds(g.ceilings)
	if c.targetFreq() != floor {
		if !c.pending {
			g.openFresh(c)
			c.idleCancelable = false
			c.arm(g.timerRate(), g.sample)
		}
		return
	}

	if c.pending && c.idleCancelable {
		c.disarm()
		c.idleSampleTS = 0
		c.idleCancelable = false
	}
}

// IdleEnd is called when cpu leaves idle and starts a fresh window so the
// load right after wake-up is measured promptly.
func (g *Governor) IdleEnd(cpu cpufreq.CPU) {
	c := g.lookup(cpu)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.idling.Store(false)

	if !c.pending && c.lastSampleTS >= c.idleSampleTS && c.enabled.Load() {
		g.openFresh(c)
		c.idleCancelable = false
		c.arm(g.timerRate(), g.sample)
	}
}

// openFresh opens a window at a new reading. On a read failure the old
// window is kept. c.mu must be held.
func (g *Governor) openFresh(c *core) {
	idleUS, ts, err := g.idle.ReadIdle(c.cpu)
	if err != nil {
		g.logger.Warn().Err(err).Uint("cpu", uint(c.cpu)).Msg("Failed to read idle time")
		return
	}

	c.openWindow(idleUS, ts)
}

// armFresh opens a window at a new reading and schedules a sample that an
// idle entry may cancel if the core sits at the floor. c.mu must be held.
func (g *Governor) armFresh(c *core) {
	g.openFresh(c)

	floor, _ := c.domain.bounds(g.ceilings)
	c.idleCancelable = c.targetFreq() == floor
	c.arm(g.timerRate(), g.sample)
}
