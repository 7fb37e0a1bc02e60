package call

import (
	"context"
	"time"
)

// watchdog ends the call if nobody speaks for the speech start timeout.
// Each round lasts at least one watchdog interval and until speech is
// ongoing; the timeout restarts with every round.
func (m *Manager) watchdog(ctx context.Context) error {
	speech := m.session.SpeechOngoing()
	for {
		if err := m.watchRound(ctx, speech); err != nil {
			return err
		}
	}
}

func (m *Manager) watchRound(ctx context.Context, speech *Flag) error {
	timeout := time.NewTimer(m.opts.SpeechStartTimeout)
	defer timeout.Stop()
	interval := time.NewTimer(m.opts.WatchdogInterval)
	defer interval.Stop()

	tick, spoke := interval.C, speech.Wait()
	for tick != nil || spoke != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return SpeechStartTimeout(m.opts.SpeechStartTimeout)
		case <-tick:
			tick = nil
		case <-spoke:
			spoke = nil
		}
	}
	return nil
}
