package idle

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
	"github.com/shirou/gopsutil/v3/cpu"
)

const usPerSecond = 1e6

// Sample is one reading of a core's idle accounting. Idle is the time the
// core spent idle (including iowait) and Timestamp the total time accounted
// to the core, both in microseconds and both monotonic. Measuring elapsed
// time in the same accounting keeps Idle <= Timestamp across any window.
type Sample struct {
	Idle      uint64
	Timestamp uint64
}

// TimesFunc returns per-core CPU times, as gopsutil's cpu.Times(true) does.
type TimesFunc func() ([]cpu.TimesStat, error)

// ProcStat reads per-core idle accounting from /proc/stat through gopsutil.
type ProcStat struct {
	times TimesFunc
}

func NewProcStat() *ProcStat {
	return NewProcStatFrom(func() ([]cpu.TimesStat, error) {
		return cpu.Times(true)
	})
}

// NewProcStatFrom builds a ProcStat on an arbitrary times source.
func NewProcStatFrom(times TimesFunc) *ProcStat {
	return &ProcStat{times: times}
}

// ReadAll returns a sample for every core the kernel reports.
func (p *ProcStat) ReadAll() (map[cpufreq.CPU]Sample, error) {
	errFactory := errors.New()

	stats, err := p.times()
	if err != nil {
		return nil, errFactory.Wrap(ErrReadTimes, err)
	}

	samples := make(map[cpufreq.CPU]Sample, len(stats))
	for i := range stats {
		n, err := parseCPUName(stats[i].CPU)
		if err != nil {
			return nil, err
		}
		samples[n] = toSample(&stats[i])
	}

	return samples, nil
}

// ReadIdle returns the idle accounting of a single core.
func (p *ProcStat) ReadIdle(c cpufreq.CPU) (idleUS, timestampUS uint64, err error) {
	samples, err := p.ReadAll()
	if err != nil {
		return 0, 0, err
	}

	s, ok := samples[c]
	if !ok {
		return 0, 0, errors.New().WithData(ErrUnknownCPU, c)
	}

	return s.Idle, s.Timestamp, nil
}

func toSample(t *cpu.TimesStat) Sample {
	return Sample{
		Idle:      uint64((t.Idle + t.Iowait) * usPerSecond),
		Timestamp: uint64(t.Total() * usPerSecond),
	}
}

func parseCPUName(name string) (cpufreq.CPU, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "cpu"), 10, 32)
	if err != nil || !strings.HasPrefix(name, "cpu") {
		return 0, errors.New().WithData(ErrBadCPUName, name)
	}

	return cpufreq.CPU(n), nil
}
