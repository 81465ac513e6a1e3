package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdleStartCancelsTimerAtFloor(t *testing.T) {
	idle := newFakeIdle(0)
	g := newTestGovernor(t, idle, &fakeSetter{})
	startDomain(t, g, testDomain(0), 200*mhz)
	c := g.lookup(0)

	c.mu.Lock()
	assert.True(t, c.pending)
	assert.True(t, c.idleCancelable)
	c.mu.Unlock()

	g.IdleStart(0)

	c.mu.Lock()
	assert.False(t, c.pending)
	assert.Zero(t, c.idleSampleTS)
	c.mu.Unlock()
	assert.True(t, c.idling.Load())

	// A callback that fired before the cancel sees no valid window.
	idle.advance(0, 10000, 0)
	fire(g, 0)

	assert.Equal(t, 200*mhz, c.targetFreq())
	assert.True(t, g.up.empty())
	assert.False(t, isPending(c))

	g.IdleEnd(0)

	assert.False(t, c.idling.Load())
	assert.True(t, isPending(c), "wake-up starts a fresh window")
}

func TestIdleStartArmsAboveFloor(t *testing.T) {
	idle := newFakeIdle(0)
	g := newTestGovernor(t, idle, &fakeSetter{})
	startDomain(t, g, testDomain(0), 200*mhz)
	c := g.lookup(0)

	// jump to the ceiling, where the sampler stops rearming
	idle.advance(0, 10000, 0)
	fire(g, 0)
	assert.Equal(t, 1600*mhz, c.targetFreq())
	assert.False(t, isPending(c))

	idle.advance(0, 1000, 0)
	g.IdleStart(0)

	c.mu.Lock()
	assert.True(t, c.pending)
	assert.False(t, c.idleCancelable)
	assert.Equal(t, uint64(baseTS+11000), c.idleSampleTS)
	c.mu.Unlock()
}

func TestIdleAtFloorIsNotRearmed(t *testing.T) {
	idle := newFakeIdle(0)
	g := newTestGovernor(t, idle, &fakeSetter{})
	startDomain(t, g, testDomain(0), 200*mhz)
	c := g.lookup(0)

	// idle entry without a cancelable timer leaves the timer alone
	c.mu.Lock()
	c.idleCancelable = false
	c.mu.Unlock()

	g.IdleStart(0)
	assert.True(t, isPending(c))

	// the sampler then finds the core idle at the floor and stops
	idle.advance(0, 10000, 10000)
	fire(g, 0)

	assert.Equal(t, 200*mhz, c.targetFreq())
	assert.False(t, isPending(c))
}

func TestIdleEndWithPendingTimer(t *testing.T) {
	idle := newFakeIdle(0)
	g := newTestGovernor(t, idle, &fakeSetter{})
	startDomain(t, g, testDomain(0), 400*mhz)
	c := g.lookup(0)

	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()

	g.IdleEnd(0)

	c.mu.Lock()
	assert.Equal(t, seq, c.seq, "pending timer kept")
	c.mu.Unlock()
}

func TestIdleHooksIgnoreUnknownCPU(t *testing.T) {
	g := newTestGovernor(t, newFakeIdle(0), &fakeSetter{})

	assert.NotPanics(t, func() {
		g.IdleStart(7)
		g.IdleEnd(7)
	})
}
