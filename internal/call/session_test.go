package call

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/internal/protocol/twilio"
)

func TestSession_MediaTimestampMonotonic(t *testing.T) {
	s := NewSession()
	steps := []struct {
		ts   int64
		want int64
	}{
		{0, 0},
		{20, 20},
		{40, 40},
		{30, 40},
		{40, 40},
		{60, 60},
	}
	for _, step := range steps {
		if got := s.UpdateMediaTimestamp(step.ts); got != step.want {
			t.Errorf("UpdateMediaTimestamp(%d) = %d, want %d", step.ts, got, step.want)
		}
	}
}

func TestManager_MediaUpdatesTimestamp(t *testing.T) {
	backend := newFakeBackend()
	m := newStartedManager(t, newFakeTransport(nil), backend, Options{})
	ctx := context.Background()

	for _, ts := range []int64{100, 120, 140} {
		if err := m.handleTelephony(ctx, mediaMessage(ts, "AAAA")); err != nil {
			t.Fatalf("handleTelephony() error: %v", err)
		}
		if got := m.session.LatestMediaTimestamp(); got != ts {
			t.Errorf("LatestMediaTimestamp() = %d, want %d", got, ts)
		}
		if got := <-backend.audio; got != "AAAA" {
			t.Errorf("backend audio = %q", got)
		}
	}
}

func TestManager_HandleMark(t *testing.T) {
	transport := newFakeTransport(nil)
	m := newStartedManager(t, transport, newFakeBackend(), Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.SendResponsePartMark(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.SendResponseDoneMark(ctx); err != nil {
		t.Fatal(err)
	}
	if got := m.session.PendingMarks(); got != 2 {
		t.Fatalf("PendingMarks() = %d, want 2; the done mark is not queued", got)
	}

	m.handleMark(MarkResponsePart)
	if !m.session.SpeechOngoing().IsSet() {
		t.Error("speech not ongoing after a response part mark")
	}
	if got := m.session.PendingMarks(); got != 1 {
		t.Errorf("PendingMarks() = %d, want 1", got)
	}

	m.handleMark(MarkDone)
	if m.session.SpeechOngoing().IsSet() {
		t.Error("speech still ongoing after the done mark")
	}
	if got := m.session.PendingMarks(); got != 1 {
		t.Errorf("PendingMarks() = %d after done mark, want 1", got)
	}

	m.handleMark("anything")
	if !m.session.SpeechOngoing().IsSet() {
		t.Error("speech not ongoing after an arbitrary mark")
	}
	if got := m.session.PendingMarks(); got != 0 {
		t.Errorf("PendingMarks() = %d, want 0", got)
	}
}

func TestManager_DoneMarkFinishesResponse(t *testing.T) {
	m := newStartedManager(t, newFakeTransport(nil), newFakeBackend(), Options{})
	ctx := context.Background()

	m.session.UpdateMediaTimestamp(500)
	m.session.BeginResponseAudio("item_1")
	m.SendResponsePartMark(ctx)
	m.SendResponseDoneMark(ctx)

	m.handleMark(MarkResponsePart)
	m.handleMark(MarkDone)

	if _, ok := m.session.ResponseStart(); ok {
		t.Error("response start still set after the response was fully played")
	}
	if item := m.session.ActiveItem(); item != "" {
		t.Errorf("ActiveItem() = %q, want empty", item)
	}
}

func TestSession_ResponseStartSetOnce(t *testing.T) {
	s := NewSession()
	s.UpdateMediaTimestamp(100)
	s.BeginResponseAudio("item_1")
	s.UpdateMediaTimestamp(300)
	s.BeginResponseAudio("item_1")

	start, ok := s.ResponseStart()
	if !ok || start != 100 {
		t.Errorf("ResponseStart() = %d, %v; want 100, true", start, ok)
	}

	s.UpdateMediaTimestamp(900)
	s.BeginResponseAudio("item_2")
	start, ok = s.ResponseStart()
	if !ok || start != 900 {
		t.Errorf("ResponseStart() after new item = %d, %v; want 900, true", start, ok)
	}
	if item := s.ActiveItem(); item != "item_2" {
		t.Errorf("ActiveItem() = %q, want item_2", item)
	}
}

func TestSession_WaitContact(t *testing.T) {
	s := NewSession()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.WaitContact(ctx); err == nil {
		t.Fatal("WaitContact() returned before the stream started")
	}

	go s.Start("MZ1", "CA1", &entities.Contact{Firstname: "Ada"})
	contact, err := s.WaitContact(context.Background())
	if err != nil {
		t.Fatalf("WaitContact() error: %v", err)
	}
	if contact.Firstname != "Ada" {
		t.Errorf("contact = %+v", contact)
	}
}

func TestTranscript(t *testing.T) {
	tr := NewTranscript()
	tr.Reserve("bot_1")
	tr.Reserve("user_1")
	tr.Reserve("bot_2")

	// Completion order differs from creation order.
	tr.Fill("user_1", `Contact: "Hi"`)
	tr.Fill("bot_1", `Callbot: "Hello"`)
	if tr.Fill("unknown", "x") {
		t.Error("Fill() accepted an unreserved item")
	}

	want := []string{`Callbot: "Hello"`, `Contact: "Hi"`}
	if got := tr.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
	if got := tr.String(); got != "Callbot: \"Hello\"\nContact: \"Hi\"" {
		t.Errorf("String() = %q", got)
	}
}

func TestRenderPrompt(t *testing.T) {
	fields := map[string]string{"firstname": "Ada", "company": "Acme"}
	tests := []struct {
		template string
		want     string
	}{
		{"Hello $firstname!", "Hello Ada!"},
		{"Call ${firstname} at ${company}", "Call Ada at Acme"},
		{"Missing $lastname stays", "Missing $lastname stays"},
		{"Price: $$5", "Price: $5"},
		{"Lone $ sign", "Lone $ sign"},
		{"${unterminated", "${unterminated"},
	}
	for _, tt := range tests {
		if got := RenderPrompt(tt.template, fields); got != tt.want {
			t.Errorf("RenderPrompt(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestManager_SendWithoutStream(t *testing.T) {
	transport := newFakeTransport(nil)
	m := NewManager(transport, newFakeBackend(), Options{})
	ctx := context.Background()

	m.SendMedia(ctx, "AAAA")
	m.SendResponsePartMark(ctx)
	m.SendResponseDoneMark(ctx)

	if sent := transport.sent(); len(sent) != 0 {
		t.Errorf("sent %d messages before stream start", len(sent))
	}
	if m.session.PendingMarks() != 0 {
		t.Error("mark queued before stream start")
	}
}

func TestManager_SendMedia(t *testing.T) {
	transport := newFakeTransport(nil)
	m := newStartedManager(t, transport, newFakeBackend(), Options{})

	if err := m.SendMedia(context.Background(), "AAAA"); err != nil {
		t.Fatal(err)
	}
	want := []twilio.Message{twilio.NewMedia("MZCA1", "AAAA")}
	if got := transport.sent(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent %#v, want %#v", got, want)
	}
}
