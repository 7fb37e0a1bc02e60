package plugins

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/internal/call"
)

const SummaryName = "summary"

// newSummary summarizes every call that has a transcript. With call_record
// enabled the summary is stored on the record, otherwise it is logged.
func newSummary(env *Env) (*Plugin, error) {
	if env.Summarizer == nil {
		return nil, errors.New("no summarizer configured")
	}
	p := &Plugin{Name: SummaryName}

	if env.recording {
		env.OnRecordSaved(func(ctx context.Context, m *call.Manager, record *entities.CallRecord) error {
			summary, err := summarize(ctx, env, m, record.Transcript)
			if err != nil || summary == "" {
				return err
			}
			if err := env.CallRecords.SetSummary(ctx, record.CallSid, summary); err != nil {
				return fmt.Errorf("store summary: %w", err)
			}
			return nil
		})
		return p, nil
	}

	p.Hooks = func(h *call.Hooks) {
		h.OnAfterCallEnd(SummaryName, func(ctx context.Context, m *call.Manager, _ *call.Outcome) error {
			if m.Session().CallSid() == "" || m.Backend() == nil {
				return nil
			}
			_, err := summarize(ctx, env, m, m.Backend().Transcript())
			return err
		})
	}
	return p, nil
}

func summarize(ctx context.Context, env *Env, m *call.Manager, transcript string) (string, error) {
	if transcript == "" {
		m.Logger().Debug("No transcript to summarize")
		return "", nil
	}
	summary, err := env.Summarizer.Summarize(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize call: %w", err)
	}
	m.Logger().Info("Call summary", zap.String("summary", summary))
	return summary, nil
}
