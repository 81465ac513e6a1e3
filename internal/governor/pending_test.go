package governor

import (
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"github.com/stretchr/testify/assert"
)

func TestPendingSet(t *testing.T) {
	p := newPendingSet()
	assert.True(t, p.empty())

	p.add(3)
	p.add(1)
	p.add(3)

	select {
	case <-p.wake:
	default:
		t.Fatal("add did not wake the worker")
	}

	assert.True(t, p.contains(1))
	assert.True(t, p.remove(1))
	assert.False(t, p.remove(1))

	p.add(0)
	assert.Equal(t, []cpufreq.CPU{0, 3}, p.drain())
	assert.True(t, p.empty())
	assert.Empty(t, p.drain())
}

func TestPendingSetsStayDisjoint(t *testing.T) {
	idle := newFakeIdle(0)
	g := newTestGovernor(t, idle, &fakeSetter{})
	startDomain(t, g, testDomain(0), 1600*mhz)
	g.Tunables().SetMinSampleTime(0)

	// drop to the floor, then jump back up before any worker ran
	idle.advance(0, 10000, 10000)
	fire(g, 0)
	assert.True(t, g.down.contains(0))

	idle.advance(0, 10000, 0)
	fire(g, 0)
	assert.True(t, g.up.contains(0))
	assert.False(t, g.down.contains(0))
}
