package governor

import (
	"context"
	"runtime"

	"codeberg.org/mutker/cpufreqd/internal/cpufreq"
	"codeberg.org/mutker/cpufreqd/internal/errors"
)

// runUp applies frequency increases as soon as they are queued. With
// realtime enabled it owns its OS thread at SCHED_FIFO priority for its
// whole life.
func (g *Governor) runUp(ctx context.Context, ready chan<- error) error {
	if g.realtime {
		runtime.LockOSThread()
		// The thread is never unlocked: when this goroutine returns the
		// runtime discards the thread along with its elevated priority.
		if err := setRealtime(); err != nil {
			err = errors.New().Wrap(ErrRealtime, err)
			ready <- err
			return err
		}
		g.logger.Debug().Msg("Scale-up worker running with realtime priority")
	}
	ready <- nil

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.up.wake:
			g.scale(g.up.drain(), "up")
		}
	}
}

// runDown applies frequency decreases. Several cores of a domain dropping
// together are coalesced into one write since the whole set is drained at
// once.
func (g *Governor) runDown(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.down.wake:
			g.scale(g.down.drain(), "down")
		case reply := <-g.flush:
			g.scale(g.down.drain(), "down")
			close(reply)
		}
	}
}

// scale applies the domain frequency of each core and restarts its
// long-term load baseline.
func (g *Governor) scale(cpus []cpufreq.CPU, direction string) {
	for _, cpu := range cpus {
		c := g.lookup(cpu)
		if c == nil || !c.enabled.Load() {
			continue
		}

		t, err := g.apply(c.domain)
		if err != nil {
			g.logger.Error().
				Err(err).
				Str("domain", c.domain.policy.String()).
				Str("direction", direction).
				Msg("Failed to set frequency")
		}
		if t != nil {
			g.logger.Debug().
				Str("domain", c.domain.policy.String()).
				Uint("cpu", uint(cpu)).
				Uint64("from", uint64(t.from)).
				Uint64("to", uint64(t.to)).
				Msg("Frequency " + direction)
			g.recorder.RecordTransition(c.domain.policy, cpu, t.from, t.to)
		}

		g.resetBaseline(c)
	}
}

// resetBaseline restarts the long-term load window of c unless it has
// been stopped meanwhile.
func (g *Governor) resetBaseline(c *core) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled.Load() {
		return
	}

	idleUS, ts, err := g.idle.ReadIdle(c.cpu)
	if err != nil {
		return
	}
	c.changeIdle, c.changeTS = idleUS, ts
}

// flushDown waits until every queued decrease has been handled. It returns
// at once when the workers are not running.
func (g *Governor) flushDown() {
	g.runMu.Lock()
	done := g.done
	g.runMu.Unlock()

	if done == nil {
		return
	}

	reply := make(chan struct{})
	select {
	case g.flush <- reply:
	case <-done:
		return
	}

	select {
	case <-reply:
	case <-done:
	}
}
