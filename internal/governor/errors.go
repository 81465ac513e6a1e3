package governor

import "codeberg.org/mutker/cpufreqd/internal/errors"

const (
	// Lifecycle Errors
	ErrDomainActive    = errors.ErrorCode("governor_domain_active")
	ErrDomainInactive  = errors.ErrorCode("governor_domain_inactive")
	ErrAlreadyRunning  = errors.ErrorCode("governor_already_running")
	ErrRealtime        = errors.ErrorCode("governor_realtime_failed")
	ErrInvalidTunable  = errors.ErrorCode("governor_invalid_tunable")
	ErrSetFrequency    = errors.ErrorCode("governor_set_frequency_failed")
	ErrReadIdleFailure = errors.ErrorCode("governor_read_idle_failed")
)
