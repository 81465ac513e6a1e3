package cpufreq

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/logger"
	"go.uber.org/multierr"
)

const (
	userspaceGovernor = "userspace"
	defaultFilePerm   = 0o644
)

var cpuDirRe = regexp.MustCompile(`^cpu(\d+)$`)

// Sysfs drives cpufreq policies through /sys/devices/system/cpu using the
// userspace governor.
type Sysfs struct {
	root     string
	logger   logger.Logger
	mu       sync.Mutex
	previous map[int]string
	acquired map[int]*Domain
}

func NewSysfs(root string, log logger.Logger) *Sysfs {
	return &Sysfs{
		root:     root,
		logger:   log,
		previous: make(map[int]string),
		acquired: make(map[int]*Domain),
	}
}

// Discover returns the frequency domains of this host, one per policy.
func (s *Sysfs) Discover() ([]*Domain, error) {
	errFactory := errors.New()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errFactory.Wrap(ErrDiscoverFail, err)
	}

	var cpus []int
	for _, e := range entries {
		m := cpuDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		cpus = append(cpus, n)
	}
	sort.Ints(cpus)

	seen := make(map[CPU]bool)
	var domains []*Domain
	for _, n := range cpus {
		cpu := CPU(n)
		if seen[cpu] {
			continue
		}

		dir := s.cpufreqPath(cpu)
		if _, err := os.Stat(dir); err != nil {
			// offline or no cpufreq driver
			continue
		}

		d, err := s.readDomain(cpu, dir)
		if err != nil {
			return nil, err
		}
		for _, member := range d.CPUs {
			seen[member] = true
		}

		s.logger.Debug().
			Str("domain", d.String()).
			Interface("cpus", d.CPUs).
			Uint64("min", uint64(d.Table.Min())).
			Uint64("max", uint64(d.Table.Max())).
			Int("entries", len(d.Table)).
			Msg("Discovered frequency domain")

		domains = append(domains, d)
	}

	if len(domains) == 0 {
		return nil, errFactory.WithData(ErrNoDomains, s.root)
	}

	return domains, nil
}

func (s *Sysfs) readDomain(cpu CPU, dir string) (*Domain, error) {
	errFactory := errors.New()

	members, err := readCPUList(dir, "affected_cpus", "related_cpus")
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		members = []CPU{cpu}
	}

	hwMin, err := readFrequency(filepath.Join(dir, "cpuinfo_min_freq"))
	if err != nil {
		return nil, err
	}
	hwMax, err := readFrequency(filepath.Join(dir, "cpuinfo_max_freq"))
	if err != nil {
		return nil, err
	}

	var table Table
	available, err := readFrequencies(filepath.Join(dir, "scaling_available_frequencies"))
	switch {
	case err == nil:
		table = NewTable(available)
	case errors.Is(err, os.ErrNotExist):
		table = SynthesizeTable(hwMin, hwMax)
	default:
		return nil, err
	}

	if len(table) == 0 {
		return nil, errFactory.WithData(ErrEmptyTable, dir)
	}

	return &Domain{
		ID:       int(members[0]),
		CPUs:     members,
		Table:    table,
		Hardware: Limits{Min: hwMin, Max: hwMax},
		path:     s.cpufreqPath(members[0]),
	}, nil
}

// Acquire switches the domain to the userspace governor, remembering the
// governor it had so Restore can put it back.
func (s *Sysfs) Acquire(d *Domain) error {
	errFactory := errors.New()
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := readString(filepath.Join(d.path, "scaling_governor"))
	if err != nil {
		return err
	}

	if current != userspaceGovernor {
		available, err := readString(filepath.Join(d.path, "scaling_available_governors"))
		if err == nil && !contains(strings.Fields(available), userspaceGovernor) {
			return errFactory.WithData(ErrUserspaceUnavailable, d.String())
		}

		if err := writeString(filepath.Join(d.path, "scaling_governor"), userspaceGovernor); err != nil {
			return errFactory.Wrap(ErrSetGovernor, err)
		}
	}

	if _, ok := s.previous[d.ID]; !ok {
		s.previous[d.ID] = current
	}
	s.acquired[d.ID] = d

	s.logger.Debug().
		Str("domain", d.String()).
		Str("previous", current).
		Msg("Switched to userspace governor")

	return nil
}

// Restore puts every acquired domain back on its previous governor.
func (s *Sysfs) Restore() error {
	errFactory := errors.New()
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for id, d := range s.acquired {
		previous := s.previous[id]
		if previous == "" || previous == userspaceGovernor {
			continue
		}

		if err := writeString(filepath.Join(d.path, "scaling_governor"), previous); err != nil {
			errs = multierr.Append(errs, errFactory.Wrap(ErrSetGovernor, err))
			continue
		}

		s.logger.Debug().
			Str("domain", d.String()).
			Str("governor", previous).
			Msg("Restored governor")
	}

	s.acquired = make(map[int]*Domain)
	s.previous = make(map[int]string)

	return errs
}

// Limits returns the current policy limits of the domain.
func (s *Sysfs) Limits(d *Domain) (Limits, error) {
	minFreq, err := readFrequency(filepath.Join(d.path, "scaling_min_freq"))
	if err != nil {
		return Limits{}, err
	}

	maxFreq, err := readFrequency(filepath.Join(d.path, "scaling_max_freq"))
	if err != nil {
		return Limits{}, err
	}

	return Limits{Min: minFreq, Max: maxFreq}, nil
}

// Current returns the frequency the driver reports for the domain.
func (s *Sysfs) Current(d *Domain) (Frequency, error) {
	return readFrequency(filepath.Join(d.path, "scaling_cur_freq"))
}

// SetDomainFrequency snaps target against the domain table and writes it to
// scaling_setspeed. The kernel clamps the write to the policy limits.
func (s *Sysfs) SetDomainFrequency(d *Domain, target Frequency, relation Relation) (Frequency, error) {
	errFactory := errors.New()

	freq, err := d.Table.Snap(target, d.Table.Min(), d.Table.Max(), relation)
	if err != nil {
		return 0, err
	}

	path := filepath.Join(d.path, "scaling_setspeed")
	if err := writeString(path, strconv.FormatUint(uint64(freq), 10)); err != nil {
		return 0, errFactory.Wrap(ErrSetFrequency, err)
	}

	return freq, nil
}

func (s *Sysfs) cpufreqPath(cpu CPU) string {
	return filepath.Join(s.root, "cpu"+strconv.FormatUint(uint64(cpu), 10), "cpufreq")
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.New().Wrap(ErrReadFailed, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func writeString(path, value string) error {
	return os.WriteFile(path, []byte(value), defaultFilePerm)
}

func readFrequency(path string) (Frequency, error) {
	value, err := readString(path)
	if err != nil {
		return 0, err
	}

	freq, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.New().Wrap(ErrParseFailed, err)
	}

	return Frequency(freq), nil
}

func readFrequencies(path string) ([]Frequency, error) {
	value, err := readString(path)
	if err != nil {
		return nil, err
	}

	var freqs []Frequency
	for _, field := range strings.Fields(value) {
		freq, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, errors.New().Wrap(ErrParseFailed, err)
		}
		freqs = append(freqs, Frequency(freq))
	}

	return freqs, nil
}

// readCPUList reads the first of names that exists in dir. Both plain
// ("0 1 2") and range ("0-3,6") formats are accepted.
func readCPUList(dir string, names ...string) ([]CPU, error) {
	for _, name := range names {
		value, err := readString(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return ParseCPUList(value)
	}

	return nil, nil
}

// ParseCPUList parses a sysfs cpu list such as "0 1 2" or "0-3,6".
func ParseCPUList(value string) ([]CPU, error) {
	errFactory := errors.New()

	var cpus []CPU
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	for _, field := range fields {
		lo, hi, isRange := strings.Cut(field, "-")
		first, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, errFactory.Wrap(ErrParseFailed, err)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseUint(hi, 10, 32); err != nil {
				return nil, errFactory.Wrap(ErrParseFailed, err)
			}
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, CPU(c))
		}
	}

	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })

	return cpus, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
