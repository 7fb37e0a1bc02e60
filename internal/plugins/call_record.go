package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/call"
)

const CallRecordName = "call_record"

type callRecorder struct {
	env *Env
}

func newCallRecord(env *Env) (*Plugin, error) {
	if env.CallRecords == nil {
		return nil, errors.New("no call record repository configured")
	}
	env.recording = true
	r := &callRecorder{env: env}
	return &Plugin{
		Name: CallRecordName,
		Hooks: func(h *call.Hooks) {
			h.OnAfterCallEnd(CallRecordName, r.afterCallEnd)
		},
		BeforeStartup: r.routes,
	}, nil
}

func (r *callRecorder) afterCallEnd(ctx context.Context, m *call.Manager, outcome *call.Outcome) error {
	s := m.Session()
	if s.CallSid() == "" {
		// The stream never started.
		return nil
	}

	record := entities.NewCallRecord(s.CallSid(), s.StartedAt())
	record.StreamSid = s.StreamSid()
	record.Backend = m.BackendName()
	record.Contact = s.Contact()
	record.Severity = outcome.Severity.String()
	record.Outcome = outcome.Reason()
	if b := m.Backend(); b != nil {
		record.Transcript = b.Transcript()
	}
	if err := r.env.CallRecords.Save(ctx, record); err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	m.Logger().Info("Call record saved", zap.Duration("duration", record.Duration()))

	for _, fn := range r.env.recordSaved {
		if err := fn(ctx, m, record); err != nil {
			m.Logger().Error("Call record subscriber failed", zap.Error(err))
		}
	}
	return nil
}

func (r *callRecorder) routes(e *echo.Echo) error {
	e.GET("/calls/:call_sid", func(c echo.Context) error {
		record, err := r.env.CallRecords.GetByCallSid(c.Request().Context(), c.Param("call_sid"))
		if errors.Is(err, repositories.ErrCallRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "call_not_found"})
		}
		if err != nil {
			r.env.Logger.Error("Failed to load call record", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		}
		return c.JSON(http.StatusOK, record)
	})
	return nil
}
