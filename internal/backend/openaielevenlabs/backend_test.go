package openaielevenlabs

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/daniil-berg/callbot/internal/backend/openai"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/call/calltest"
	"github.com/daniil-berg/callbot/internal/protocol/elevenlabs"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
)

func ttsLabel(payload []byte) string {
	msg, err := elevenlabs.ParseSent(payload)
	if err != nil {
		return "?"
	}
	switch msg.(type) {
	case *elevenlabs.InitializeContext:
		return "init"
	case *elevenlabs.SendText:
		return "text"
	case *elevenlabs.FlushContext:
		return "flush"
	case *elevenlabs.CloseContext:
		return "close_context"
	case *elevenlabs.CloseSocket:
		return "close_socket"
	}
	return "?"
}

type fixture struct {
	journal *calltest.Journal
	openai  *calltest.Conn
	tts     *calltest.Conn
	backend *Backend
	manager *call.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	journal := &calltest.Journal{}
	openaiConn := calltest.NewConn("openai", journal, calltest.TypeLabel)
	ttsConn := calltest.NewConn("elevenlabs", journal, ttsLabel)

	cfg := Config{VoiceID: "voice", ChunkLengthSchedule: []int{50, 120}}
	b := New(openai.NewClient(openaiConn, openai.Config{}, nil, logger), ttsConn, cfg, logger)
	m := call.NewManager(calltest.Twilio(journal), b, call.Options{Logger: logger})
	m.Session().Start("MZ1", "CA1", nil)
	return &fixture{journal: journal, openai: openaiConn, tts: ttsConn, backend: b, manager: m}
}

func (f *fixture) contextID(t *testing.T) string {
	t.Helper()
	for _, raw := range f.tts.Written() {
		msg, err := elevenlabs.ParseSent(raw)
		if err != nil {
			t.Fatal(err)
		}
		if init, ok := msg.(*elevenlabs.InitializeContext); ok {
			return init.ContextID
		}
	}
	t.Fatal("no context initialized")
	return ""
}

func textDelta(itemID, delta string) *realtime.ResponseTextDelta {
	return &realtime.ResponseTextDelta{Type: realtime.EventResponseTextDelta, ItemID: itemID, Delta: delta}
}

func TestBackend_ResponseIsSpoken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ev := range []realtime.Event{
		textDelta("item_1", "Hello "),
		textDelta("item_1", "Ada."),
		&realtime.ResponseTextDone{Type: realtime.EventResponseTextDone, ItemID: "item_1", Text: "Hello Ada."},
	} {
		if err := f.backend.handleOpenAI(ctx, f.manager, ev); err != nil {
			t.Fatal(err)
		}
	}
	contextID := f.contextID(t)

	for _, msg := range []elevenlabs.Received{
		&elevenlabs.AudioOutput{Audio: "AAAA", ContextID: contextID},
		&elevenlabs.AudioOutput{Audio: "BBBB", ContextID: contextID},
		&elevenlabs.FinalOutput{IsFinal: true, ContextID: contextID},
	} {
		if err := f.backend.handleTTS(ctx, f.manager, msg); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{
		"elevenlabs:init", "elevenlabs:text", "elevenlabs:text",
		"elevenlabs:flush", "elevenlabs:close_context",
		"twilio:media", "twilio:mark:responsePart",
		"twilio:media", "twilio:mark:responsePart",
		"twilio:mark:done",
	}
	if got := f.journal.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
	if f.manager.Session().ActiveItem() != "item_1" {
		t.Errorf("ActiveItem() = %q", f.manager.Session().ActiveItem())
	}
}

func TestBackend_EachResponseGetsItsOwnContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.handleOpenAI(ctx, f.manager, textDelta("item_1", "One."))
	f.backend.handleOpenAI(ctx, f.manager, textDelta("item_2", "Two."))

	var ids []string
	for _, raw := range f.tts.Written() {
		msg, _ := elevenlabs.ParseSent(raw)
		if init, ok := msg.(*elevenlabs.InitializeContext); ok {
			ids = append(ids, init.ContextID)
			if init.GenerationConfig == nil || !reflect.DeepEqual(init.GenerationConfig.ChunkLengthSchedule, []int{50, 120}) {
				t.Errorf("generation config = %+v", init.GenerationConfig)
			}
		}
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("context ids = %v, want two distinct", ids)
	}
}

func TestBackend_InterruptionClosesContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Session().UpdateMediaTimestamp(500)
	if err := f.backend.handleOpenAI(ctx, f.manager, textDelta("item_1", "A long story")); err != nil {
		t.Fatal(err)
	}
	contextID := f.contextID(t)
	if err := f.backend.handleTTS(ctx, f.manager, &elevenlabs.AudioOutput{Audio: "AAAA", ContextID: contextID}); err != nil {
		t.Fatal(err)
	}
	f.manager.Session().UpdateMediaTimestamp(900)

	speech := &realtime.InputAudioBufferSpeechStarted{Type: realtime.EventInputAudioBufferSpeechStarted, ItemID: "item_2"}
	if err := f.backend.handleOpenAI(ctx, f.manager, speech); err != nil {
		t.Fatal(err)
	}
	// Late audio and text of the interrupted response are dropped.
	if err := f.backend.handleTTS(ctx, f.manager, &elevenlabs.AudioOutput{Audio: "BBBB", ContextID: contextID}); err != nil {
		t.Fatal(err)
	}
	if err := f.backend.handleOpenAI(ctx, f.manager, textDelta("item_1", " continues")); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"elevenlabs:init", "elevenlabs:text",
		"twilio:media", "twilio:mark:responsePart",
		"elevenlabs:close_context", "twilio:clear",
	}
	if got := f.journal.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
	for _, raw := range f.openai.Written() {
		if calltest.TypeLabel(raw) == string(realtime.EventConversationItemTruncate) {
			t.Error("truncate sent to text-only session")
		}
	}
}

func TestBackend_AudioOfInterruptedItemBeforeContextClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.backend.handleOpenAI(ctx, f.manager, textDelta("item_1", "Hello")); err != nil {
		t.Fatal(err)
	}
	contextID := f.contextID(t)

	// The item is marked interrupted while its context is still mapped.
	f.backend.mu.Lock()
	f.backend.interrupted["item_1"] = true
	f.backend.mu.Unlock()

	if err := f.backend.handleTTS(ctx, f.manager, &elevenlabs.AudioOutput{Audio: "AAAA", ContextID: contextID}); err != nil {
		t.Fatal(err)
	}
	if err := f.backend.handleTTS(ctx, f.manager, &elevenlabs.FinalOutput{IsFinal: true, ContextID: contextID}); err != nil {
		t.Fatal(err)
	}

	want := []string{"elevenlabs:init", "elevenlabs:text"}
	if got := f.journal.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
	if item := f.manager.Session().ActiveItem(); item != "" {
		t.Errorf("ActiveItem() = %q, want empty", item)
	}
	if _, ok := f.manager.Session().ResponseStart(); ok {
		t.Error("response start set for interrupted item")
	}
}

func TestBackend_ListenEndsWhenPeerCloses(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() {
		done <- f.backend.Listen(context.Background(), f.manager)
	}()

	f.tts.Push(t, `{"unexpected":true}`)
	f.openai.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen() did not return")
	}
}

func TestBackend_InitSessionIsTextOnly(t *testing.T) {
	f := newFixture(t)
	if err := f.backend.InitSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev, err := realtime.ParseClientEvent(f.openai.Written()[0])
	if err != nil {
		t.Fatal(err)
	}
	update := ev.(*realtime.SessionUpdate)
	if !reflect.DeepEqual(update.Session.Modalities, []string{realtime.ModalityText}) {
		t.Errorf("modalities = %v", update.Session.Modalities)
	}
}

func TestConfig_Endpoint(t *testing.T) {
	got, err := Config{VoiceID: "abc"}.Endpoint()
	if err != nil {
		t.Fatal(err)
	}
	want := "wss://api.elevenlabs.io/v1/text-to-speech/abc/multi-stream-input?model_id=" + DefaultModelID + "&output_format=ulaw_8000"
	if got != want {
		t.Errorf("Endpoint() = %q, want %q", got, want)
	}
	if _, err := (Config{}).Endpoint(); err == nil {
		t.Error("Endpoint() without voice succeeded")
	}
}
