package governor

import (
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
)

// domain is the governor's view of an active cpufreq policy. mu serializes
// every hardware write for the domain; applied is only stored under it.
type domain struct {
	policy *cpufreq.Domain
	cores  []*core

	mu      sync.Mutex
	applied atomic.Uint64
	minFreq atomic.Uint64
	maxFreq atomic.Uint64
}

func newDomain(d *cpufreq.Domain, applied cpufreq.Frequency) *domain {
	dom := &domain{policy: d}
	dom.applied.Store(uint64(applied))
	dom.minFreq.Store(uint64(d.Table.Min()))
	dom.maxFreq.Store(uint64(d.Table.Max()))

	return dom
}

func (d *domain) appliedFreq() cpufreq.Frequency {
	return cpufreq.Frequency(d.applied.Load())
}

func (d *domain) limits() cpufreq.Limits {
	return cpufreq.Limits{
		Min: cpufreq.Frequency(d.minFreq.Load()),
		Max: cpufreq.Frequency(d.maxFreq.Load()),
	}
}

// bounds returns the floor and the ceiling a sampler may choose between.
// The ceiling is the policy maximum reduced by any active power signal,
// never below the floor.
func (d *domain) bounds(ceilings Ceilings) (floor, ceiling cpufreq.Frequency) {
	l := d.limits()

	ceiling = ceilings.Ceiling(l.Max)
	if ceiling < l.Min {
		ceiling = l.Min
	}

	return l.Min, ceiling
}

// required is the highest target among enabled members, 0 if none.
func (d *domain) required() cpufreq.Frequency {
	var highest cpufreq.Frequency
	for _, c := range d.cores {
		if !c.enabled.Load() {
			continue
		}
		if t := c.targetFreq(); t > highest {
			highest = t
		}
	}

	return highest
}

type transition struct {
	from, to cpufreq.Frequency
}

// apply brings the domain to the maximum target of its enabled members.
// It writes the hardware only when that differs from the applied frequency.
func (g *Governor) apply(dom *domain) (*transition, error) {
	dom.mu.Lock()
	defer dom.mu.Unlock()

	required := dom.required()
	if required == 0 {
		return nil, nil
	}

	// Like the kernel, keep the request inside the policy limits.
	relation := cpufreq.RoundUp
	l := dom.limits()
	switch {
	case required > l.Max:
		required, relation = l.Max, cpufreq.RoundDown
	case required < l.Min:
		required = l.Min
	}

	if required == dom.appliedFreq() {
		return nil, nil
	}

	return g.setLocked(dom, required, relation)
}

// setLocked issues one hardware write and records the result as applied.
// dom.mu must be held.
func (g *Governor) setLocked(dom *domain, target cpufreq.Frequency, relation cpufreq.Relation) (*transition, error) {
	current := dom.appliedFreq()

	got, err := g.setter.SetDomainFrequency(dom.policy, target, relation)
	if err != nil {
		return nil, errors.New().Wrap(ErrSetFrequency, err)
	}

	dom.applied.Store(uint64(got))

	return &transition{from: current, to: got}, nil
}
