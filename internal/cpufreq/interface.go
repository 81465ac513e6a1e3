package cpufreq

import "strconv"

// Domain types for type safety and validation
type (
	// CPU is a logical CPU number as used by sysfs and /proc/stat.
	CPU uint

	// Frequency is a clock frequency in kHz, the unit cpufreq uses.
	Frequency uint64

	// Limits bounds the frequencies a policy may select between.
	Limits struct {
		Min, Max Frequency
	}
)

// Relation selects how a target is snapped to a table entry.
type Relation int

const (
	// RoundUp selects the lowest frequency at or above the target.
	RoundUp Relation = iota
	// RoundDown selects the highest frequency at or below the target.
	RoundDown
)

func (r Relation) String() string {
	if r == RoundDown {
		return "round_down"
	}
	return "round_up"
}

// Domain is a frequency scaling domain: a set of CPUs sharing one clock.
// It is immutable once discovered.
type Domain struct {
	// ID is the policy CPU, the first member.
	ID   int
	CPUs []CPU
	// Table lists the achievable frequencies in ascending order.
	Table Table
	// Hardware holds cpuinfo_min_freq and cpuinfo_max_freq.
	Hardware Limits

	path string
}

func (d *Domain) String() string {
	return "policy" + strconv.Itoa(d.ID)
}

// Contains reports whether cpu is a member of the domain.
func (d *Domain) Contains(cpu CPU) bool {
	for _, c := range d.CPUs {
		if c == cpu {
			return true
		}
	}
	return false
}

// Setter applies a frequency to a whole domain.
type Setter interface {
	SetDomainFrequency(d *Domain, target Frequency, relation Relation) (Frequency, error)
}

// Platform is the full set of cpufreq operations the daemon needs.
type Platform interface {
	Setter
	Discover() ([]*Domain, error)
	Acquire(d *Domain) error
	Restore() error
	Limits(d *Domain) (Limits, error)
	Current(d *Domain) (Frequency, error)
}
