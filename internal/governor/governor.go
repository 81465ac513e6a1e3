// Package governor is a load-driven cpufreq governor. Every core runs a
// periodic sampler that measures its load and picks a target frequency;
// a realtime scale-up worker and a deferred scale-down worker apply the
// highest target of each domain to the hardware.
package governor

import (
	"context"
	"sort"
	"sync"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/logger"
	"golang.org/x/sync/errgroup"
)

type Governor struct {
	idle     IdleSource
	setter   cpufreq.Setter
	logger   logger.Logger
	ceilings Ceilings
	recorder Recorder
	realtime bool
	tunables *Tunables

	mu      sync.RWMutex
	cores   map[cpufreq.CPU]*core
	domains map[int]*domain

	up    *pendingSet
	down  *pendingSet
	flush chan chan struct{}

	runMu sync.Mutex
	done  chan struct{}
}

func New(idle IdleSource, setter cpufreq.Setter, opts ...Option) *Governor {
	o := options{
		logger:   logger.Nop(),
		ceilings: noCeilings{},
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tunables == nil {
		o.tunables = NewTunables(DefaultTunableValues())
	}

	return &Governor{
		idle:     idle,
		setter:   setter,
		logger:   o.logger,
		ceilings: o.ceilings,
		recorder: o.recorder,
		realtime: o.realtime,
		tunables: o.tunables,
		cores:    make(map[cpufreq.CPU]*core),
		domains:  make(map[int]*domain),
		up:       newPendingSet(),
		down:     newPendingSet(),
		flush:    make(chan chan struct{}),
	}
}

func (g *Governor) Tunables() *Tunables {
	return g.tunables
}

// Run starts the scale-up and scale-down workers and blocks until ctx is
// cancelled or a worker fails.
func (g *Governor) Run(ctx context.Context) error {
	g.runMu.Lock()
	if g.done != nil {
		g.runMu.Unlock()
		return errors.New().New(ErrAlreadyRunning)
	}
	done := make(chan struct{})
	g.done = done
	g.runMu.Unlock()

	defer func() {
		g.runMu.Lock()
		close(done)
		g.done = nil
		g.runMu.Unlock()
	}()

	group, ctx := errgroup.WithContext(ctx)
	ready := make(chan error, 1)

	group.Go(func() error { return g.runUp(ctx, ready) })
	if err := <-ready; err != nil {
		return group.Wait()
	}
	group.Go(func() error { return g.runDown(ctx) })

	g.logger.Debug().Bool("realtime", g.realtime).Msg("Workers started")

	return group.Wait()
}

func (g *Governor) lookup(cpu cpufreq.CPU) *core {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.cores[cpu]
}

func (g *Governor) lookupDomain(d *cpufreq.Domain) *domain {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.domains[d.ID]
}

// Start activates d with applied as its current frequency. Every member
// core begins sampling right away.
func (g *Governor) Start(d *cpufreq.Domain, applied cpufreq.Frequency) error {
	errFactory := errors.New()

	dom := newDomain(d, applied)
	initial, err := d.Table.Snap(applied, d.Table.Min(), d.Table.Max(), cpufreq.RoundUp)
	if err != nil {
		return err
	}

	for _, cpu := range d.CPUs {
		idleUS, ts, err := g.idle.ReadIdle(cpu)
		if err != nil {
			return errFactory.Wrap(ErrReadIdleFailure, err)
		}

		c := newCore(cpu, dom)
		c.target.Store(uint64(initial))
		c.changeIdle, c.changeTS = idleUS, ts
		dom.cores = append(dom.cores, c)
	}

	g.mu.Lock()
	if _, ok := g.domains[d.ID]; ok {
		g.mu.Unlock()
		return errFactory.WithData(ErrDomainActive, d.String())
	}
	for _, cpu := range d.CPUs {
		if _, ok := g.cores[cpu]; ok {
			g.mu.Unlock()
			return errFactory.WithData(ErrDomainActive, cpu)
		}
	}
	for _, c := range dom.cores {
		c.enabled.Store(true)
		g.cores[c.cpu] = c
	}
	g.domains[d.ID] = dom
	g.mu.Unlock()

	g.tunables.seedHispeed(d.Table.Max())

	for _, c := range dom.cores {
		c.mu.Lock()
		g.armFresh(c)
		c.mu.Unlock()
	}

	g.logger.Info().
		Str("domain", d.String()).
		Interface("cpus", d.CPUs).
		Uint64("applied", uint64(applied)).
		Msg("Domain started")

	return nil
}

// Stop deactivates d. Once it returns no sampler of d's cores runs again,
// no write for d is in flight and queued decreases have been handled.
func (g *Governor) Stop(d *cpufreq.Domain) {
	g.mu.Lock()
	dom, ok := g.domains[d.ID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.domains, d.ID)
	for _, c := range dom.cores {
		delete(g.cores, c.cpu)
	}
	g.mu.Unlock()

	for _, c := range dom.cores {
		c.enabled.Store(false)
	}

	for _, c := range dom.cores {
		// waits for a running sampler to finish
		c.mu.Lock()
		c.retire()
		c.mu.Unlock()
	}

	g.flushDown()

	// Taking the domain lock waits for a write already in progress.
	dom.mu.Lock()
	for _, c := range dom.cores {
		g.up.remove(c.cpu)
		g.down.remove(c.cpu)
	}
	dom.mu.Unlock()

	g.logger.Info().Str("domain", d.String()).Msg("Domain stopped")
}

// LimitsChanged records new policy limits for d. An applied frequency
// outside them is corrected at once with a direct write, and sampling
// resumes on cores that had stopped at the old ceiling.
func (g *Governor) LimitsChanged(d *cpufreq.Domain, minFreq, maxFreq cpufreq.Frequency) error {
	dom := g.lookupDomain(d)
	if dom == nil {
		return errors.New().WithData(ErrDomainInactive, d.String())
	}

	dom.minFreq.Store(uint64(minFreq))
	dom.maxFreq.Store(uint64(maxFreq))

	dom.mu.Lock()
	var (
		t   *transition
		err error
	)
	current := dom.appliedFreq()
	switch {
	case maxFreq < current:
		t, err = g.setLocked(dom, maxFreq, cpufreq.RoundDown)
	case minFreq > current:
		t, err = g.setLocked(dom, minFreq, cpufreq.RoundUp)
	}
	dom.mu.Unlock()

	if t != nil {
		g.logger.Debug().
			Str("domain", d.String()).
			Uint64("from", uint64(t.from)).
			Uint64("to", uint64(t.to)).
			Msg("Frequency clamped to new limits")
		g.recorder.RecordTransition(d, cpufreq.CPU(d.ID), t.from, t.to)
	}

	g.resampleDomain(dom)

	return err
}

// Resample restarts sampling on every active core that is neither
// sampling nor idle, e.g. after the power signals changed.
func (g *Governor) Resample() {
	g.mu.RLock()
	domains := make([]*domain, 0, len(g.domains))
	for _, dom := range g.domains {
		domains = append(domains, dom)
	}
	g.mu.RUnlock()

	for _, dom := range domains {
		g.resampleDomain(dom)
	}
}

func (g *Governor) resampleDomain(dom *domain) {
	for _, c := range dom.cores {
		c.mu.Lock()
		if c.enabled.Load() && !c.pending && !c.idling.Load() {
			g.armFresh(c)
		}
		c.mu.Unlock()
	}
}

// Snapshot returns the state of every active domain, ordered by id.
func (g *Governor) Snapshot() []DomainStatus {
	g.mu.RLock()
	domains := make([]*domain, 0, len(g.domains))
	for _, dom := range g.domains {
		domains = append(domains, dom)
	}
	g.mu.RUnlock()

	sort.Slice(domains, func(i, j int) bool { return domains[i].policy.ID < domains[j].policy.ID })

	statuses := make([]DomainStatus, 0, len(domains))
	for _, dom := range domains {
		_, ceiling := dom.bounds(g.ceilings)
		status := DomainStatus{
			Domain:  dom.policy,
			Applied: dom.appliedFreq(),
			Limits:  dom.limits(),
			Ceiling: ceiling,
		}

		for _, c := range dom.cores {
			c.mu.Lock()
			pending := c.pending
			c.mu.Unlock()

			status.Cores = append(status.Cores, CoreStatus{
				CPU:     c.cpu,
				Target:  c.targetFreq(),
				Idling:  c.idling.Load(),
				Pending: pending,
			})
		}

		statuses = append(statuses, status)
	}

	return statuses
}
