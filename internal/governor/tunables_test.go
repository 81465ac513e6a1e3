package governor_test

import (
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/governor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTunables(t *testing.T) {
	v := governor.NewTunables(governor.DefaultTunableValues()).Values()

	assert.Equal(t, uint64(95), v.GoHispeedLoad)
	assert.Equal(t, uint64(20000), v.MinSampleTime)
	assert.Equal(t, uint64(20000), v.TimerRate)
	assert.Equal(t, uint64(2), v.BoostFactor)
	assert.Zero(t, v.HispeedFreq)
}

func TestNewTunablesClampsUnusableValues(t *testing.T) {
	tun := governor.NewTunables(governor.TunableValues{})

	assert.Equal(t, uint64(1), tun.BoostFactor())
	assert.Equal(t, uint64(governor.DefaultTimerRate), tun.TimerRate())
}

func TestSetBoostFactorRejectsZero(t *testing.T) {
	tun := governor.NewTunables(governor.DefaultTunableValues())

	err := tun.SetBoostFactor(0)
	assert.True(t, errors.HasCode(err, governor.ErrInvalidTunable))
	assert.Equal(t, uint64(2), tun.BoostFactor())

	require.NoError(t, tun.SetBoostFactor(3))
	assert.Equal(t, uint64(3), tun.BoostFactor())
}

func TestSetTimerRateRejectsZero(t *testing.T) {
	tun := governor.NewTunables(governor.DefaultTunableValues())

	err := tun.SetTimerRate(0)
	assert.True(t, errors.HasCode(err, governor.ErrInvalidTunable))

	require.NoError(t, tun.SetTimerRate(50000))
	assert.Equal(t, uint64(50000), tun.TimerRate())
}

func TestApplyTunables(t *testing.T) {
	tun := governor.NewTunables(governor.DefaultTunableValues())

	update := governor.TunableValues{
		GoHispeedLoad: 80,
		MinSampleTime: 40000,
		TimerRate:     10000,
		HispeedFreq:   cpufreq.Frequency(1200000),
		BoostFactor:   4,
	}
	require.NoError(t, tun.Apply(update))
	assert.Equal(t, update, tun.Values())

	bad := update
	bad.BoostFactor = 0
	bad.GoHispeedLoad = 10
	assert.True(t, errors.HasCode(tun.Apply(bad), governor.ErrInvalidTunable))
	assert.Equal(t, update, tun.Values(), "rejected update changes nothing")
}

func TestTunableSetters(t *testing.T) {
	tun := governor.NewTunables(governor.DefaultTunableValues())

	tun.SetGoHispeedLoad(85)
	tun.SetMinSampleTime(5000)
	tun.SetHispeedFreq(800000)

	assert.Equal(t, uint64(85), tun.GoHispeedLoad())
	assert.Equal(t, uint64(5000), tun.MinSampleTime())
	assert.Equal(t, cpufreq.Frequency(800000), tun.HispeedFreq())
}
