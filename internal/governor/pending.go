package governor

import (
	"sort"
	"sync"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
)

// pendingSet collects core ids awaiting a worker. The lock covers only the
// set itself; wake carries at most one outstanding notification.
type pendingSet struct {
	mu   sync.Mutex
	cpus map[cpufreq.CPU]struct{}
	wake chan struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		cpus: make(map[cpufreq.CPU]struct{}),
		wake: make(chan struct{}, 1),
	}
}

// add queues c and wakes the worker.
func (p *pendingSet) add(c cpufreq.CPU) {
	p.mu.Lock()
	p.cpus[c] = struct{}{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// remove drops c if queued, reporting whether it was.
func (p *pendingSet) remove(c cpufreq.CPU) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.cpus[c]
	delete(p.cpus, c)

	return ok
}

// drain swaps out the whole set and returns its members in ascending order.
func (p *pendingSet) drain() []cpufreq.CPU {
	p.mu.Lock()
	taken := p.cpus
	p.cpus = make(map[cpufreq.CPU]struct{}, len(taken))
	p.mu.Unlock()

	cpus := make([]cpufreq.CPU, 0, len(taken))
	for c := range taken {
		cpus = append(cpus, c)
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })

	return cpus
}

func (p *pendingSet) contains(c cpufreq.CPU) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.cpus[c]

	return ok
}

func (p *pendingSet) empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.cpus) == 0
}
