package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daniil-berg/callbot/adapters/llm"
	"github.com/daniil-berg/callbot/adapters/memory"
	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/call/calltest"
)

const transcript = `Callbot: "Hello Ada."
Contact: "Please call again next week."`

// transcriptBackend is a backend that only has a transcript.
type transcriptBackend struct{ text string }

func (transcriptBackend) InitSession(context.Context) error { return nil }
func (transcriptBackend) Listen(context.Context, *call.Manager) error { return nil }
func (transcriptBackend) SendAudio(context.Context, string) error { return nil }
func (transcriptBackend) SendText(context.Context, string) error { return nil }
func (b transcriptBackend) Transcript() string { return b.text }
func (transcriptBackend) Close() error { return nil }

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string) (string, error) {
	return "", errors.New("quota exceeded")
}

func endedCall(t *testing.T, logger *zap.Logger, callSid string) *call.Manager {
	t.Helper()
	m := call.NewManager(calltest.Twilio(&calltest.Journal{}), transcriptBackend{transcript}, call.Options{
		BackendName: "openai",
		Logger:      logger,
	})
	if callSid != "" {
		m.Session().Start("MZ1", callSid, &entities.Contact{Firstname: "Ada", Lastname: "Lovelace", Phone: "+4930123456"})
	}
	return m
}

func runAfterCallEnd(set *Set, m *call.Manager) {
	hooks := call.NewHooks()
	set.RegisterHooks(hooks)
	hooks.AfterCallEnd(context.Background(), m, &call.Outcome{
		Severity: call.SeverityWarning,
		Err:      call.EndCall(call.SeverityWarning, "Reason: 'voicemail'"),
	})
}

func TestLoad(t *testing.T) {
	env := Env{
		Registry:    call.NewRegistry(zaptest.NewLogger(t)),
		CallRecords: memory.NewCallRecordRepository(),
		Summarizer:  llm.NewMockSummarizer(),
	}

	set, err := Load([]string{"status", " summary", "call_record"}, env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := []string{"call_record", "summary", "status"}; !reflect.DeepEqual(set.Names(), want) {
		t.Errorf("Names() = %v, want %v", set.Names(), want)
	}

	if _, err := Load([]string{"telemetry"}, env); err == nil {
		t.Error("Load() accepted unknown plugin")
	}
	if _, err := Load([]string{"summary"}, Env{}); err == nil {
		t.Error("Load() built summary without summarizer")
	}
	if _, err := Load([]string{"call_record"}, Env{}); err == nil {
		t.Error("Load() built call_record without repository")
	}
	empty, err := Load(nil, Env{})
	if err != nil || len(empty.Names()) != 0 || len(empty.Functions()) != 0 {
		t.Errorf("Load(nil) = %v, %v", empty.Names(), err)
	}
}

func TestCallRecord_SavedWithSummary(t *testing.T) {
	records := memory.NewCallRecordRepository()
	set, err := Load([]string{"call_record", "summary"}, Env{
		CallRecords: records,
		Summarizer:  llm.NewMockSummarizer(),
		Logger:      zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	runAfterCallEnd(set, endedCall(t, zaptest.NewLogger(t), "CA1"))

	record, err := records.GetByCallSid(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("no record stored: %v", err)
	}
	if record.StreamSid != "MZ1" || record.Backend != "openai" || record.Severity != "warning" {
		t.Errorf("record = %+v", record)
	}
	if record.Outcome != "Reason: 'voicemail'" || record.Transcript != transcript {
		t.Errorf("outcome = %q, transcript = %q", record.Outcome, record.Transcript)
	}
	if record.Contact == nil || record.Contact.Firstname != "Ada" {
		t.Errorf("contact = %+v", record.Contact)
	}
	if record.Summary != `Contact said "Please call again next week."` {
		t.Errorf("summary = %q", record.Summary)
	}
}

func TestCallRecord_SkipsUnstartedCall(t *testing.T) {
	records := memory.NewCallRecordRepository()
	set, err := Load([]string{"call_record"}, Env{CallRecords: records})
	if err != nil {
		t.Fatal(err)
	}
	runAfterCallEnd(set, endedCall(t, zaptest.NewLogger(t), ""))
	if n := len(records.Recent(0)); n != 0 {
		t.Errorf("stored %d records for a call that never started", n)
	}
}

func TestSummary_FailureLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	records := memory.NewCallRecordRepository()
	set, err := Load([]string{"call_record", "summary"}, Env{
		CallRecords: records,
		Summarizer:  failingSummarizer{},
		Logger:      logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	runAfterCallEnd(set, endedCall(t, logger, "CA1"))

	if record, err := records.GetByCallSid(context.Background(), "CA1"); err != nil || record.Summary != "" {
		t.Errorf("record = %+v, err = %v", record, err)
	}
	if n := logs.FilterMessage("Call record subscriber failed").Len(); n != 1 {
		t.Errorf("logged %d subscriber failures, want 1", n)
	}
}

func TestSummary_WithoutRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	set, err := Load([]string{"summary"}, Env{Summarizer: llm.NewMockSummarizer(), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	runAfterCallEnd(set, endedCall(t, logger, "CA1"))

	entries := logs.FilterMessage("Call summary").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d summaries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["summary"]; got != `Contact said "Please call again next week."` {
		t.Errorf("summary = %v", got)
	}
}

func TestStatus_ListsCalls(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := call.NewRegistry(logger)
	registry.Register("CA2", endedCall(t, logger, "CA2"))
	registry.Register("CA1", endedCall(t, logger, "CA1"))

	set, err := Load([]string{"status"}, Env{Registry: registry, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	set.BeforeStartup(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp CallsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(resp.Calls, []string{"CA1", "CA2"}) || resp.Count != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCallRecord_Route(t *testing.T) {
	records := memory.NewCallRecordRepository()
	if err := records.Save(context.Background(), entities.NewCallRecord("CA1", time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	set, err := Load([]string{"call_record"}, Env{CallRecords: records, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	set.BeforeStartup(e)

	tests := []struct {
		path string
		want int
	}{
		{"/calls/CA1", http.StatusOK},
		{"/calls/CA404", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}
