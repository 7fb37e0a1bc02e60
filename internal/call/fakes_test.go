package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/protocol/twilio"
	"github.com/daniil-berg/callbot/internal/websocket"
)

// journal records events from several fakes in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeTransport plays Twilio.
type fakeTransport struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	journal *journal

	mu          sync.Mutex
	out         []twilio.Message
	closeCode   int
	closeReason string
}

func newFakeTransport(j *journal) *fakeTransport {
	if j == nil {
		j = &journal{}
	}
	return &fakeTransport{
		in:      make(chan []byte, 64),
		closed:  make(chan struct{}),
		journal: j,
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-t.in:
		return msg, nil
	case <-t.closed:
		return nil, websocket.ErrClosed
	}
}

func (t *fakeTransport) WriteMessage(_ context.Context, payload []byte) error {
	select {
	case <-t.closed:
		return websocket.ErrClosed
	default:
	}
	msg, err := twilio.ParseOutbound(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.out = append(t.out, msg)
	t.mu.Unlock()
	t.journal.add("twilio:" + string(msg.EventName()))
	return nil
}

func (t *fakeTransport) CloseWithCode(code int, reason string) error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closeCode, t.closeReason = code, reason
		t.mu.Unlock()
		close(t.closed)
	})
	return nil
}

func (t *fakeTransport) send(tb testing.TB, v any) {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatal(err)
	}
	t.in <- data
}

func (t *fakeTransport) sent() []twilio.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]twilio.Message(nil), t.out...)
}

func (t *fakeTransport) closedWith() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// fakeBackend records what the manager hands it. Listen blocks until ctx is
// done unless listen is set.
type fakeBackend struct {
	audio  chan string
	listen func(ctx context.Context, m *Manager) error

	mu     sync.Mutex
	texts  []string
	closed int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{audio: make(chan string, 64)}
}

func (b *fakeBackend) InitSession(context.Context) error { return nil }

func (b *fakeBackend) Listen(ctx context.Context, m *Manager) error {
	if b.listen != nil {
		return b.listen(ctx, m)
	}
	<-ctx.Done()
	return nil
}

func (b *fakeBackend) SendAudio(_ context.Context, payload string) error {
	b.audio <- payload
	return nil
}

func (b *fakeBackend) SendText(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return nil
}

func (b *fakeBackend) Transcript() string { return "" }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBackend) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

func newTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	s, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret"}, auth.NewMemoryTokenStore())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func issueToken(t *testing.T, s *auth.TokenService) string {
	t.Helper()
	token, err := s.Issue()
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func startMessage(callSid string, params map[string]string) *twilio.Start {
	return &twilio.Start{
		Event:          twilio.EventStart,
		SequenceNumber: 1,
		StreamSid:      "MZ" + callSid,
		Start: twilio.StartInfo{
			AccountSid:       "AC123",
			StreamSid:        "MZ" + callSid,
			CallSid:          callSid,
			Tracks:           []string{"inbound"},
			CustomParameters: params,
			MediaFormat:      twilio.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	}
}

func mediaMessage(ts int64, payload string) *twilio.Media {
	return &twilio.Media{
		Event:     twilio.EventMedia,
		StreamSid: "MZCA1",
		Media:     twilio.InboundMedia{Track: "inbound", Timestamp: twilio.Number(ts), Payload: payload},
	}
}

func markMessage(name string) *twilio.Mark {
	return &twilio.Mark{Event: twilio.EventMark, StreamSid: "MZCA1", Mark: twilio.MarkInfo{Name: name}}
}

// newStartedManager returns a manager whose stream already started, for
// testing handlers without running the call.
func newStartedManager(t *testing.T, transport Transport, backend Backend, opts Options) *Manager {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	m := NewManager(transport, backend, opts)
	m.session.Start("MZCA1", "CA1", nil)
	return m
}

// runManager runs m in the background and returns a channel delivering the
// outcome.
func runManager(ctx context.Context, m *Manager) <-chan *Outcome {
	done := make(chan *Outcome, 1)
	go func() {
		done <- m.Run(ctx)
	}()
	return done
}

func waitOutcome(t *testing.T, done <-chan *Outcome) *Outcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("call did not end")
		return nil
	}
}
