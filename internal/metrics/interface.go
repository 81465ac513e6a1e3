package metrics

import (
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
)

// Collector receives frequency transitions from the governor. Recording
// never blocks the caller.
type Collector interface {
	RecordTransition(d *cpufreq.Domain, c cpufreq.CPU, from, to cpufreq.Frequency)
	Dropped() uint64
	Close() error
}

// Repository defines the interface for transition storage
type Repository interface {
	Record(t *Transition) error
	Close() error
}

// Direction of a frequency change
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Transition is one frequency applied to a domain.
type Transition struct {
	Timestamp time.Time
	Domain    int
	CPU       cpufreq.CPU
	From      cpufreq.Frequency
	To        cpufreq.Frequency
	Direction Direction
}

func directionOf(from, to cpufreq.Frequency) Direction {
	if to < from {
		return DirectionDown
	}
	return DirectionUp
}
