package cpufreq

import (
	"sync"

	"codeberg.org/mutker/cpufreqd/internal/logger"
)

// Monitor is a Setter that resolves frequencies without touching hardware.
// It remembers the last selection per domain so status output stays
// meaningful in monitor mode.
type Monitor struct {
	logger logger.Logger
	mu     sync.Mutex
	last   map[int]Frequency
}

func NewMonitor(log logger.Logger) *Monitor {
	return &Monitor{
		logger: log,
		last:   make(map[int]Frequency),
	}
}

func (m *Monitor) SetDomainFrequency(d *Domain, target Frequency, relation Relation) (Frequency, error) {
	freq, err := d.Table.Snap(target, d.Table.Min(), d.Table.Max(), relation)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	previous := m.last[d.ID]
	m.last[d.ID] = freq
	m.mu.Unlock()

	if previous != freq {
		m.logger.Debug().
			Str("domain", d.String()).
			Uint64("from", uint64(previous)).
			Uint64("to", uint64(freq)).
			Str("relation", relation.String()).
			Msg("Would set frequency")
	}

	return freq, nil
}

// Last returns the most recent frequency selected for the domain.
func (m *Monitor) Last(d *Domain) Frequency {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last[d.ID]
}
