package idle

import "codeberg.org/mutker/cpufreqd/internal/errors"

const (
	ErrReadTimes  = errors.ErrorCode("idle_read_times_failed")
	ErrUnknownCPU = errors.ErrorCode("idle_unknown_cpu")
	ErrBadCPUName = errors.ErrorCode("idle_bad_cpu_name")
)
