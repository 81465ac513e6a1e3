package idle

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/logger"
)

// Listener receives idle transitions for the cores it registered.
type Listener interface {
	IdleStart(c cpufreq.CPU)
	IdleEnd(c cpufreq.CPU)
}

// Reader is the accounting the watcher polls.
type Reader interface {
	ReadAll() (map[cpufreq.CPU]Sample, error)
}

type coreState struct {
	listener Listener
	known    bool
	idle     bool
	last     Sample
}

type event struct {
	listener Listener
	cpu      cpufreq.CPU
	idle     bool
}

// Watcher turns polled idle accounting into idle-start and idle-end
// notifications. A core counts as idle when its idle share over the last
// poll window reaches the threshold.
type Watcher struct {
	reader    Reader
	interval  time.Duration
	threshold uint64
	logger    logger.Logger

	mu    sync.Mutex
	cores map[cpufreq.CPU]*coreState
}

func NewWatcher(reader Reader, interval time.Duration, threshold uint64, log logger.Logger) *Watcher {
	return &Watcher{
		reader:    reader,
		interval:  interval,
		threshold: threshold,
		logger:    log,
		cores:     make(map[cpufreq.CPU]*coreState),
	}
}

// Register subscribes l to transitions of cpus. The first poll after
// registration reports the current state of each core.
func (w *Watcher) Register(cpus []cpufreq.CPU, l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range cpus {
		w.cores[c] = &coreState{listener: l}
	}
}

// Unregister drops cpus. No event for them is delivered once it returns,
// except one already being dispatched by a concurrent Poll.
func (w *Watcher) Unregister(cpus []cpufreq.CPU) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range cpus {
		delete(w.cores, c)
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Poll(); err != nil {
				w.logger.Warn().Err(err).Msg("Failed to poll idle accounting")
			}
		}
	}
}

// Poll takes one reading and dispatches the resulting transitions.
func (w *Watcher) Poll() error {
	samples, err := w.reader.ReadAll()
	if err != nil {
		return err
	}

	events := w.transitions(samples)
	for _, e := range events {
		if e.idle {
			e.listener.IdleStart(e.cpu)
		} else {
			e.listener.IdleEnd(e.cpu)
		}
	}

	return nil
}

func (w *Watcher) transitions(samples map[cpufreq.CPU]Sample) []event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []event
	for c, state := range w.cores {
		s, ok := samples[c]
		if !ok {
			continue
		}

		if state.last.Timestamp == 0 {
			// first reading: no window yet
			state.last = s
			continue
		}

		elapsed := s.Timestamp - state.last.Timestamp
		if s.Timestamp < state.last.Timestamp || elapsed == 0 {
			continue
		}

		var idled uint64
		if s.Idle > state.last.Idle {
			idled = s.Idle - state.last.Idle
		}
		state.last = s

		isIdle := idled*100 >= w.threshold*elapsed
		if state.known && state.idle == isIdle {
			continue
		}

		state.known = true
		state.idle = isIdle
		events = append(events, event{listener: state.listener, cpu: c, idle: isIdle})
	}

	return events
}
