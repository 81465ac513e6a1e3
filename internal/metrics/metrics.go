package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/logger"
)

type service struct {
	repo    Repository
	logger  logger.Logger
	queue   chan *Transition
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create metrics repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Int("queue_size", cfg.QueueSize).
		Msg("Metrics service initialized successfully")

	return newService(repo, cfg.QueueSize, log), nil
}

func newService(repo Repository, queueSize int, log logger.Logger) *service {
	s := &service{
		repo:   repo,
		logger: log,
		queue:  make(chan *Transition, queueSize),
		done:   make(chan struct{}),
	}
	go s.writer()

	return s
}

// RecordTransition queues a transition for the writer, dropping it when
// the queue is full.
func (s *service) RecordTransition(d *cpufreq.Domain, c cpufreq.CPU, from, to cpufreq.Frequency) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	t := &Transition{
		Timestamp: time.Now(),
		Domain:    d.ID,
		CPU:       c,
		From:      from,
		To:        to,
		Direction: directionOf(from, to),
	}

	select {
	case s.queue <- t:
	default:
		s.dropped.Add(1)
	}
}

func (s *service) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *service) writer() {
	defer close(s.done)

	for t := range s.queue {
		if err := s.repo.Record(t); err != nil {
			s.logger.Error().Err(err).Msg("Failed to record transition")
		}
	}
}

func (s *service) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done

	if dropped := s.dropped.Load(); dropped > 0 {
		s.logger.Warn().Uint64("dropped", dropped).Msg("Transitions dropped while the queue was full")
	}

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}

	return nil
}

// No-op implementation
func (*noopCollector) RecordTransition(*cpufreq.Domain, cpufreq.CPU, cpufreq.Frequency, cpufreq.Frequency) {
}

func (*noopCollector) Dropped() uint64 {
	return 0
}

func (*noopCollector) Close() error {
	return nil
}
