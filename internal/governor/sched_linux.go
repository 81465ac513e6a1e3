//go:build linux

package governor

import "golang.org/x/sys/unix"

const maxRealtimePriority = 99

// setRealtime moves the calling thread to SCHED_FIFO at the highest
// priority.
func setRealtime() error {
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: maxRealtimePriority,
	}

	return unix.SchedSetAttr(0, attr, 0)
}
