//go:build !linux

package governor

import "codeberg.org/mutker/cpufreqd/internal/errors"

func setRealtime() error {
	return errors.New().New(errors.ErrNotImplemented)
}
