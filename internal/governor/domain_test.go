package governor

import (
	stderrors "errors"
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUsesDomainMaximum(t *testing.T) {
	setter := &fakeSetter{}
	g := newTestGovernor(t, newFakeIdle(0, 1), setter)
	d := testDomain(0, 1)
	startDomain(t, g, d, 200*mhz)

	c0, c1 := g.lookup(0), g.lookup(1)
	dom := c0.domain

	c0.target.Store(uint64(400 * mhz))
	c1.target.Store(uint64(1600 * mhz))
	tr, err := g.apply(dom)
	require.NoError(t, err)
	assert.Equal(t, &transition{from: 200 * mhz, to: 1600 * mhz}, tr)

	c1.target.Store(uint64(200 * mhz))
	tr, err = g.apply(dom)
	require.NoError(t, err)
	assert.Equal(t, 400*mhz, tr.to)

	// unchanged maximum: no hardware write
	tr, err = g.apply(dom)
	require.NoError(t, err)
	assert.Nil(t, tr)

	// disabled members do not count
	c0.enabled.Store(false)
	_, err = g.apply(dom)
	require.NoError(t, err)
	assert.Equal(t, 200*mhz, dom.appliedFreq())

	assert.Equal(t, []setCall{
		{1600 * mhz, cpufreq.RoundUp},
		{400 * mhz, cpufreq.RoundUp},
		{200 * mhz, cpufreq.RoundUp},
	}, setter.recorded())
}

func TestApplyKeepsAppliedOnFailure(t *testing.T) {
	setter := &fakeSetter{err: stderrors.New("write error")}
	g := newTestGovernor(t, newFakeIdle(0), setter)
	startDomain(t, g, testDomain(0), 200*mhz)

	c := g.lookup(0)
	c.target.Store(uint64(800 * mhz))

	tr, err := g.apply(c.domain)
	assert.Nil(t, tr)
	assert.True(t, errors.HasCode(err, ErrSetFrequency))
	assert.Equal(t, 200*mhz, c.domain.appliedFreq())

	// the next cycle retries
	setter.mu.Lock()
	setter.err = nil
	setter.mu.Unlock()

	tr, err = g.apply(c.domain)
	require.NoError(t, err)
	assert.Equal(t, 800*mhz, tr.to)
}

func TestApplyStaysInsideLimits(t *testing.T) {
	setter := &fakeSetter{}
	g := newTestGovernor(t, newFakeIdle(0), setter)
	startDomain(t, g, testDomain(0), 400*mhz)

	c := g.lookup(0)
	c.domain.maxFreq.Store(uint64(800 * mhz))
	c.target.Store(uint64(1600 * mhz))

	tr, err := g.apply(c.domain)
	require.NoError(t, err)
	assert.Equal(t, 800*mhz, tr.to)
	assert.Equal(t, []setCall{{800 * mhz, cpufreq.RoundDown}}, setter.recorded())
}

func TestScaleRecordsTransitionAndResetsBaseline(t *testing.T) {
	idle := newFakeIdle(0)
	recorder := &mockRecorder{}
	g := newTestGovernor(t, idle, &fakeSetter{}, WithRecorder(recorder))
	d := testDomain(0)
	startDomain(t, g, d, 400*mhz)

	recorder.On("RecordTransition", d, cpufreq.CPU(0), 400*mhz, 800*mhz).Once()

	c := g.lookup(0)
	c.target.Store(uint64(800 * mhz))
	idle.advance(0, 7000, 3000)

	g.scale([]cpufreq.CPU{0}, "up")

	recorder.AssertExpectations(t)

	c.mu.Lock()
	assert.Equal(t, uint64(baseTS+7000), c.changeTS)
	assert.Equal(t, uint64(3000), c.changeIdle)
	c.mu.Unlock()
}
