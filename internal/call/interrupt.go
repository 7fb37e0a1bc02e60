package call

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Interrupter stops the AI response the caller talked over.
type Interrupter interface {
	// Interrupt cancels cut.ItemID, of which the caller heard
	// cut.AudioEndMs milliseconds.
	Interrupt(ctx context.Context, cut Interruption) error
}

// InterrupterFunc adapts a function to the Interrupter interface.
type InterrupterFunc func(ctx context.Context, cut Interruption) error

func (f InterrupterFunc) Interrupt(ctx context.Context, cut Interruption) error {
	return f(ctx, cut)
}

// HandleSpeechStarted reacts to the caller starting to speak. Speech keeps
// the watchdog at bay. If a response is still being played, it is cut off
// via the interrupter and Twilio drops the buffered audio.
func (m *Manager) HandleSpeechStarted(ctx context.Context, interrupter Interrupter) error {
	m.session.SpeechOngoing().Set()

	cut, ok := m.session.takeInterruption()
	if !ok {
		return nil
	}
	m.logger.Debug("Interrupting response",
		zap.String("item_id", cut.ItemID),
		zap.Int64("audio_end_ms", cut.AudioEndMs))

	if err := interrupter.Interrupt(ctx, cut); err != nil {
		return fmt.Errorf("interrupting %s: %w", cut.ItemID, err)
	}
	if err := m.ClearMarks(ctx); err != nil {
		return fmt.Errorf("clearing marks: %w", err)
	}
	m.opts.Metrics.RecordInterruption()
	return nil
}
