package cpufreq

import (
	"sort"

	"codeberg.org/mutker/cpufreqd/internal/errors"
	"github.com/samber/lo"
)

// synthesizedStep is the spacing used when the driver exposes no table.
const synthesizedStep Frequency = 100000

// Table is an ascending list of achievable frequencies.
type Table []Frequency

// NewTable sorts and deduplicates freqs, dropping zero entries.
func NewTable(freqs []Frequency) Table {
	freqs = lo.Uniq(lo.Filter(freqs, func(f Frequency, _ int) bool { return f > 0 }))
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })

	return Table(freqs)
}

// SynthesizeTable builds a table in 100 MHz steps from minFreq to maxFreq,
// both included, for drivers that do not publish available frequencies.
func SynthesizeTable(minFreq, maxFreq Frequency) Table {
	if minFreq == 0 || maxFreq < minFreq {
		return nil
	}

	var freqs []Frequency
	for f := minFreq; f < maxFreq; f += synthesizedStep {
		freqs = append(freqs, f)
	}

	return NewTable(append(freqs, maxFreq))
}

// Min returns the lowest entry, or 0 for an empty table.
func (t Table) Min() Frequency {
	if len(t) == 0 {
		return 0
	}
	return t[0]
}

// Max returns the highest entry, or 0 for an empty table.
func (t Table) Max() Frequency {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1]
}

// Contains reports whether f is an exact table entry.
func (t Table) Contains(f Frequency) bool {
	i := sort.Search(len(t), func(i int) bool { return t[i] >= f })
	return i < len(t) && t[i] == f
}

// Snap resolves target to a table entry within [floor, ceiling].
//
// RoundUp picks the smallest candidate >= target and falls back to the
// largest candidate; RoundDown picks the largest candidate <= target and
// falls back to the smallest. It fails with ErrNoFrequency when no entry
// lies within the bounds.
func (t Table) Snap(target, floor, ceiling Frequency, relation Relation) (Frequency, error) {
	candidates := lo.Filter(t, func(f Frequency, _ int) bool {
		return f >= floor && f <= ceiling
	})
	if len(candidates) == 0 {
		return 0, errors.New().WithData(ErrNoFrequency, struct {
			Target  Frequency
			Floor   Frequency
			Ceiling Frequency
		}{target, floor, ceiling})
	}

	if relation == RoundDown {
		best := candidates[0]
		for _, f := range candidates {
			if f > target {
				break
			}
			best = f
		}
		return best, nil
	}

	for _, f := range candidates {
		if f >= target {
			return f, nil
		}
	}

	return candidates[len(candidates)-1], nil
}
