package governor

import (
	"sync"
	"testing"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"github.com/stretchr/testify/mock"
)

const (
	mhz = cpufreq.Frequency(1000)
	// long enough that no timer fires during a test
	idleTimerRate = 3_600_000_000
	baseTS        = 1_000_000
)

var testTable = cpufreq.Table{200 * mhz, 400 * mhz, 800 * mhz, 1600 * mhz}

func testDomain(cpus ...cpufreq.CPU) *cpufreq.Domain {
	return &cpufreq.Domain{
		ID:       int(cpus[0]),
		CPUs:     cpus,
		Table:    testTable,
		Hardware: cpufreq.Limits{Min: testTable.Min(), Max: testTable.Max()},
	}
}

type reading struct {
	idle, ts uint64
}

// fakeIdle serves settable idle readings. With step set, every read moves
// the clock forward by step.ts and the idle counter by step.idle.
type fakeIdle struct {
	mu       sync.Mutex
	readings map[cpufreq.CPU]reading
	step     reading
	reads    int
}

func newFakeIdle(cpus ...cpufreq.CPU) *fakeIdle {
	f := &fakeIdle{readings: make(map[cpufreq.CPU]reading)}
	for _, c := range cpus {
		f.readings[c] = reading{ts: baseTS}
	}
	return f
}

func (f *fakeIdle) ReadIdle(c cpufreq.CPU) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	r, ok := f.readings[c]
	if !ok {
		return 0, 0, errors.New().WithData(errors.ErrResourceNotFound, c)
	}
	if f.step.ts > 0 {
		r.ts += f.step.ts
		r.idle += f.step.idle
		f.readings[c] = r
	}

	return r.idle, r.ts, nil
}

// advance moves cpu's clock by elapsed microseconds, idle of which idle.
func (f *fakeIdle) advance(c cpufreq.CPU, elapsed, idle uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.readings[c]
	r.ts += elapsed
	r.idle += idle
	f.readings[c] = r
}

func (f *fakeIdle) setStep(elapsed, idle uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.step = reading{idle: idle, ts: elapsed}
}

func (f *fakeIdle) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

type setCall struct {
	target   cpufreq.Frequency
	relation cpufreq.Relation
}

// fakeSetter snaps like the sysfs setter and records every call.
type fakeSetter struct {
	mu    sync.Mutex
	calls []setCall
	err   error
}

func (s *fakeSetter) SetDomainFrequency(d *cpufreq.Domain, target cpufreq.Frequency, relation cpufreq.Relation) (cpufreq.Frequency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, setCall{target, relation})
	if s.err != nil {
		return 0, s.err
	}

	return d.Table.Snap(target, d.Table.Min(), d.Table.Max(), relation)
}

func (s *fakeSetter) recorded() []setCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]setCall(nil), s.calls...)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordTransition(d *cpufreq.Domain, c cpufreq.CPU, from, to cpufreq.Frequency) {
	m.Called(d, c, from, to)
}

func slowTunables() *Tunables {
	v := DefaultTunableValues()
	v.TimerRate = idleTimerRate
	return NewTunables(v)
}

// newTestGovernor builds a governor whose timers never fire on their own,
// so tests drive the sampler by hand.
func newTestGovernor(t *testing.T, idle IdleSource, setter cpufreq.Setter, opts ...Option) *Governor {
	t.Helper()

	return New(idle, setter, append([]Option{WithTunables(slowTunables())}, opts...)...)
}

// startDomain starts d and stops it when the test ends.
func startDomain(t *testing.T, g *Governor, d *cpufreq.Domain, applied cpufreq.Frequency) {
	t.Helper()

	if err := g.Start(d, applied); err != nil {
		t.Fatalf("start %s: %v", d, err)
	}
	t.Cleanup(func() { g.Stop(d) })
}

// fire runs the core's sampler as its live timer would.
func fire(g *Governor, cpu cpufreq.CPU) {
	c := g.lookup(cpu)

	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()

	g.sample(c, seq)
}

func isPending(c *core) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}
