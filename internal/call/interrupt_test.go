package call

import (
	"context"
	"reflect"
	"testing"
)

func recordingInterrupter(j *journal, cuts *[]Interruption) Interrupter {
	return InterrupterFunc(func(_ context.Context, cut Interruption) error {
		*cuts = append(*cuts, cut)
		j.add("backend:truncate")
		return nil
	})
}

func TestHandleSpeechStarted_Interrupts(t *testing.T) {
	j := &journal{}
	transport := newFakeTransport(j)
	m := newStartedManager(t, transport, newFakeBackend(), Options{})
	ctx := context.Background()

	m.session.UpdateMediaTimestamp(1000)
	m.session.BeginResponseAudio("item_1")
	m.SendMedia(ctx, "AAAA")
	m.SendResponsePartMark(ctx)
	m.session.UpdateMediaTimestamp(1500)
	m.session.BeginResponseAudio("item_1")
	m.SendMedia(ctx, "BBBB")
	m.SendResponsePartMark(ctx)
	m.session.UpdateMediaTimestamp(1740)

	var cuts []Interruption
	if err := m.HandleSpeechStarted(ctx, recordingInterrupter(j, &cuts)); err != nil {
		t.Fatalf("HandleSpeechStarted() error: %v", err)
	}

	want := []Interruption{{ItemID: "item_1", AudioEndMs: 740}}
	if !reflect.DeepEqual(cuts, want) {
		t.Errorf("interruptions = %+v, want %+v", cuts, want)
	}

	wantOrder := []string{
		"twilio:media", "twilio:mark",
		"twilio:media", "twilio:mark",
		"backend:truncate", "twilio:clear",
	}
	if got := j.list(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("message order = %v, want %v", got, wantOrder)
	}

	if got := m.session.PendingMarks(); got != 0 {
		t.Errorf("PendingMarks() = %d, want 0", got)
	}
	if item := m.session.ActiveItem(); item != "" {
		t.Errorf("ActiveItem() = %q, want empty", item)
	}
	if _, ok := m.session.ResponseStart(); ok {
		t.Error("response start still set")
	}
	if !m.session.SpeechOngoing().IsSet() {
		t.Error("speech not ongoing")
	}
}

func TestHandleSpeechStarted_OverlappingResponses(t *testing.T) {
	j := &journal{}
	m := newStartedManager(t, newFakeTransport(j), newFakeBackend(), Options{})
	ctx := context.Background()

	m.session.UpdateMediaTimestamp(1000)
	m.session.BeginResponseAudio("item_A")
	m.SendMedia(ctx, "AAAA")
	m.SendResponsePartMark(ctx)
	m.SendResponseDoneMark(ctx)
	m.handleMark(MarkResponsePart)

	// The next response streams before the done mark of the first came back.
	m.session.UpdateMediaTimestamp(5000)
	m.session.BeginResponseAudio("item_B")
	m.SendMedia(ctx, "BBBB")
	m.SendResponsePartMark(ctx)
	m.session.UpdateMediaTimestamp(5200)

	var cuts []Interruption
	if err := m.HandleSpeechStarted(ctx, recordingInterrupter(j, &cuts)); err != nil {
		t.Fatalf("HandleSpeechStarted() error: %v", err)
	}
	want := []Interruption{{ItemID: "item_B", AudioEndMs: 200}}
	if !reflect.DeepEqual(cuts, want) {
		t.Errorf("interruptions = %+v, want %+v", cuts, want)
	}
}

func TestHandleSpeechStarted_AudioDuringInterruption(t *testing.T) {
	j := &journal{}
	m := newStartedManager(t, newFakeTransport(j), newFakeBackend(), Options{})
	ctx := context.Background()

	m.session.UpdateMediaTimestamp(1000)
	m.session.BeginResponseAudio("item_1")
	m.SendMedia(ctx, "AAAA")
	m.SendResponsePartMark(ctx)
	m.session.UpdateMediaTimestamp(1300)

	// Audio of the cut item is still delivered while the backend cancels it.
	late := InterrupterFunc(func(ctx context.Context, _ Interruption) error {
		m.session.BeginResponseAudio("item_1")
		m.SendMedia(ctx, "BBBB")
		return m.SendResponsePartMark(ctx)
	})
	if err := m.HandleSpeechStarted(ctx, late); err != nil {
		t.Fatalf("HandleSpeechStarted() error: %v", err)
	}

	if got := m.session.PendingMarks(); got != 0 {
		t.Errorf("PendingMarks() = %d, want 0", got)
	}
	if item := m.session.ActiveItem(); item != "" {
		t.Errorf("ActiveItem() = %q, want empty", item)
	}
	if _, ok := m.session.ResponseStart(); ok {
		t.Error("response start still set")
	}
	if got := j.list(); got[len(got)-1] != "twilio:clear" {
		t.Errorf("last message = %q, want twilio:clear", got[len(got)-1])
	}
}

func TestHandleSpeechStarted_NoOp(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ctx context.Context, m *Manager)
	}{
		{"idle", func(context.Context, *Manager) {}},
		{"marks without response", func(ctx context.Context, m *Manager) {
			m.SendResponsePartMark(ctx)
		}},
		{"response without marks", func(ctx context.Context, m *Manager) {
			m.session.BeginResponseAudio("item_1")
		}},
		{"all marks played", func(ctx context.Context, m *Manager) {
			m.session.BeginResponseAudio("item_1")
			m.SendResponsePartMark(ctx)
			m.handleMark(MarkResponsePart)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &journal{}
			m := newStartedManager(t, newFakeTransport(j), newFakeBackend(), Options{})
			ctx := context.Background()
			tt.setup(ctx, m)
			before := len(j.list())

			var cuts []Interruption
			if err := m.HandleSpeechStarted(ctx, recordingInterrupter(j, &cuts)); err != nil {
				t.Fatalf("HandleSpeechStarted() error: %v", err)
			}
			if len(cuts) != 0 {
				t.Errorf("interrupter called: %+v", cuts)
			}
			if got := j.list()[before:]; len(got) != 0 {
				t.Errorf("messages sent: %v", got)
			}
			if !m.session.SpeechOngoing().IsSet() {
				t.Error("speech not ongoing")
			}
		})
	}
}
