package cpufreq

import "codeberg.org/mutker/cpufreqd/internal/errors"

const (
	// Discovery Errors
	ErrNoDomains    = errors.ErrorCode("cpufreq_no_domains")
	ErrEmptyTable   = errors.ErrorCode("cpufreq_empty_table")
	ErrReadFailed   = errors.ErrorCode("cpufreq_read_failed")
	ErrParseFailed  = errors.ErrorCode("cpufreq_parse_failed")
	ErrDiscoverFail = errors.ErrorCode("cpufreq_discover_failed")

	// Frequency Errors
	ErrNoFrequency  = errors.ErrorCode("cpufreq_no_frequency")
	ErrSetFrequency = errors.ErrorCode("cpufreq_set_frequency_failed")

	// Governor Errors
	ErrUserspaceUnavailable = errors.ErrorCode("cpufreq_userspace_unavailable")
	ErrSetGovernor          = errors.ErrorCode("cpufreq_set_governor_failed")
)
