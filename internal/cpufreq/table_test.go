package cpufreq_test

import (
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mhz = cpufreq.Frequency(1000)

func TestNewTable(t *testing.T) {
	table := cpufreq.NewTable([]cpufreq.Frequency{1600 * mhz, 0, 200 * mhz, 800 * mhz, 200 * mhz, 400 * mhz})

	assert.Equal(t, cpufreq.Table{200 * mhz, 400 * mhz, 800 * mhz, 1600 * mhz}, table)
	assert.Equal(t, 200*mhz, table.Min())
	assert.Equal(t, 1600*mhz, table.Max())
	assert.True(t, table.Contains(800*mhz))
	assert.False(t, table.Contains(640*mhz))
}

func TestEmptyTable(t *testing.T) {
	var table cpufreq.Table

	assert.Zero(t, table.Min())
	assert.Zero(t, table.Max())
	assert.False(t, table.Contains(0))

	_, err := table.Snap(100, 0, 1000, cpufreq.RoundUp)
	assert.True(t, errors.HasCode(err, cpufreq.ErrNoFrequency))
}

func TestSynthesizeTable(t *testing.T) {
	table := cpufreq.SynthesizeTable(800*mhz, 1050*mhz)
	assert.Equal(t, cpufreq.Table{800 * mhz, 900 * mhz, 1000 * mhz, 1050 * mhz}, table)

	assert.Nil(t, cpufreq.SynthesizeTable(0, 1000*mhz))
	assert.Nil(t, cpufreq.SynthesizeTable(2000*mhz, 1000*mhz))
	assert.Equal(t, cpufreq.Table{1000 * mhz}, cpufreq.SynthesizeTable(1000*mhz, 1000*mhz))
}

func TestSnap(t *testing.T) {
	table := cpufreq.NewTable([]cpufreq.Frequency{200 * mhz, 400 * mhz, 800 * mhz, 1600 * mhz})

	tests := []struct {
		name     string
		target   cpufreq.Frequency
		floor    cpufreq.Frequency
		ceiling  cpufreq.Frequency
		relation cpufreq.Relation
		want     cpufreq.Frequency
	}{
		{"exact entry", 800 * mhz, 0, 1600 * mhz, cpufreq.RoundUp, 800 * mhz},
		{"round up between entries", 640 * mhz, 0, 1600 * mhz, cpufreq.RoundUp, 800 * mhz},
		{"round down between entries", 640 * mhz, 0, 1600 * mhz, cpufreq.RoundDown, 400 * mhz},
		{"zero target rounds up to floor", 0, 200 * mhz, 1600 * mhz, cpufreq.RoundUp, 200 * mhz},
		{"above table rounds up to max", 3200 * mhz, 0, 1600 * mhz, cpufreq.RoundUp, 1600 * mhz},
		{"below table rounds down to min", 100 * mhz, 0, 1600 * mhz, cpufreq.RoundDown, 200 * mhz},
		{"ceiling clamps round up", 1200 * mhz, 0, 800 * mhz, cpufreq.RoundUp, 800 * mhz},
		{"floor clamps round down", 300 * mhz, 400 * mhz, 1600 * mhz, cpufreq.RoundDown, 400 * mhz},
		{"ceiling between entries", 1600 * mhz, 0, 1000 * mhz, cpufreq.RoundUp, 800 * mhz},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Snap(tt.target, tt.floor, tt.ceiling, tt.relation)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, table.Contains(got))
		})
	}
}

func TestSnapNoCandidate(t *testing.T) {
	table := cpufreq.NewTable([]cpufreq.Frequency{200 * mhz, 400 * mhz})

	_, err := table.Snap(300*mhz, 250*mhz, 350*mhz, cpufreq.RoundUp)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cpufreq.ErrNoFrequency))
}

func TestRelationString(t *testing.T) {
	assert.Equal(t, "round_up", cpufreq.RoundUp.String())
	assert.Equal(t, "round_down", cpufreq.RoundDown.String())
}
