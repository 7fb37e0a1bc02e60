// Package openaielevenlabs lets the realtime API write the replies and
// ElevenLabs speak them.
package openaielevenlabs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daniil-berg/callbot/internal/backend/openai"
	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/functions"
	"github.com/daniil-berg/callbot/internal/protocol/elevenlabs"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
	"github.com/daniil-berg/callbot/internal/websocket"
)

// Name is the configuration name of the backend.
const Name = "openai_elevenlabs"

const (
	DefaultURL     = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/multi-stream-input"
	DefaultModelID = "eleven_flash_v2_5"
	OutputFormat   = "ulaw_8000"
)

var errPeerClosed = errors.New("peer closed")

// Config configures the ElevenLabs side.
type Config struct {
	APIKey              string
	VoiceID             string
	ModelID             string
	URL                 string
	VoiceSettings       *elevenlabs.VoiceSettings
	ChunkLengthSchedule []int
}

// Endpoint returns the multi-context websocket URL for the voice.
func (c Config) Endpoint() (string, error) {
	if c.VoiceID == "" {
		return "", errors.New("elevenlabs voice id missing")
	}
	base := c.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(strings.ReplaceAll(base, "{voice_id}", url.PathEscape(c.VoiceID)))
	if err != nil {
		return "", fmt.Errorf("parsing elevenlabs url: %w", err)
	}
	modelID := c.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", OutputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is the ElevenLabs websocket.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
	Close() error
}

// Backend streams the text of each AI response into its own ElevenLabs
// context and plays the resulting audio.
type Backend struct {
	cfg    Config
	openai *openai.Client
	tts    Conn
	logger *zap.Logger

	mu          sync.Mutex
	contexts    map[string]string // item id -> context id
	items       map[string]string // context id -> item id
	interrupted map[string]bool   // item ids
}

var _ call.Backend = (*Backend)(nil)

func New(client *openai.Client, tts Conn, cfg Config, logger *zap.Logger) *Backend {
	return &Backend{
		cfg:         cfg,
		openai:      client,
		tts:         tts,
		logger:      logger,
		contexts:    make(map[string]string),
		items:       make(map[string]string),
		interrupted: make(map[string]bool),
	}
}

// Factory connects both peers for every call.
func Factory(openaiCfg openai.Config, cfg Config, dispatcher *functions.Dispatcher) call.BackendFactory {
	return func(ctx context.Context, logger *zap.Logger) (call.Backend, error) {
		endpoint, err := cfg.Endpoint()
		if err != nil {
			return nil, err
		}
		client, err := openai.Dial(ctx, openaiCfg, dispatcher, logger)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		header.Set("xi-api-key", cfg.APIKey)
		tts, err := websocket.Dial(ctx, endpoint, header, "elevenlabs", logger)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to elevenlabs: %w", err)
		}
		return New(client, tts, cfg, logger), nil
	}
}

func (b *Backend) InitSession(ctx context.Context) error {
	return b.openai.Configure(ctx, []string{realtime.ModalityText})
}

// Listen handles both peers until either closes.
func (b *Backend) Listen(ctx context.Context, m *call.Manager) error {
	b.openai.Bind(m)
	b.logger = m.Logger()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { b.Close() })
	defer stop()
	g.Go(func() error { return b.listenOpenAI(gctx, m) })
	g.Go(func() error { return b.listenTTS(gctx, m) })

	err := g.Wait()
	if errors.Is(err, errPeerClosed) {
		return nil
	}
	return err
}

func (b *Backend) listenOpenAI(ctx context.Context, m *call.Manager) error {
	for {
		event, err := b.openai.Next(m)
		if err != nil {
			if websocket.IsClosedError(err) {
				return errPeerClosed
			}
			return err
		}
		if err := b.handleOpenAI(ctx, m, event); err != nil {
			return err
		}
	}
}

func (b *Backend) handleOpenAI(ctx context.Context, m *call.Manager, event realtime.Event) error {
	switch ev := event.(type) {
	case *realtime.ResponseTextDelta:
		return b.speak(ctx, ev.ItemID, ev.Delta)
	case *realtime.ResponseTextDone:
		return b.finish(ctx, ev.ItemID)
	}
	_, err := b.openai.Handle(ctx, m, event, b)
	return err
}

// speak streams text of an item to its context, opening it first if
// needed.
func (b *Backend) speak(ctx context.Context, itemID, text string) error {
	b.mu.Lock()
	if b.interrupted[itemID] {
		b.mu.Unlock()
		return nil
	}
	contextID, ok := b.contexts[itemID]
	if !ok {
		contextID = uuid.NewString()
		b.contexts[itemID] = contextID
		b.items[contextID] = itemID
	}
	b.mu.Unlock()

	if !ok {
		init := &elevenlabs.InitializeContext{
			Text:          " ",
			ContextID:     contextID,
			VoiceSettings: b.cfg.VoiceSettings,
		}
		if len(b.cfg.ChunkLengthSchedule) > 0 {
			init.GenerationConfig = &elevenlabs.GenerationConfig{ChunkLengthSchedule: b.cfg.ChunkLengthSchedule}
		}
		if err := b.send(ctx, init); err != nil {
			return err
		}
		b.logger.Debug("ElevenLabs context opened", zap.String("item_id", itemID), zap.String("context_id", contextID))
	}
	return b.send(ctx, &elevenlabs.SendText{Text: text, ContextID: contextID})
}

// finish flushes the remaining text of an item and closes its context.
func (b *Backend) finish(ctx context.Context, itemID string) error {
	b.mu.Lock()
	contextID, ok := b.contexts[itemID]
	interrupted := b.interrupted[itemID]
	b.mu.Unlock()
	if !ok || interrupted {
		return nil
	}
	if err := b.send(ctx, elevenlabs.NewFlushContext(contextID)); err != nil {
		return err
	}
	return b.send(ctx, elevenlabs.NewCloseContext(contextID))
}

func (b *Backend) listenTTS(ctx context.Context, m *call.Manager) error {
	for {
		data, err := b.tts.ReadMessage()
		if err != nil {
			if websocket.IsClosedError(err) {
				return errPeerClosed
			}
			return err
		}
		m.Metrics().RecordMessage("elevenlabs", "in")
		msg, err := elevenlabs.ParseReceived(data)
		if err != nil {
			m.Metrics().RecordDecodeError("elevenlabs")
			b.logger.Error("ElevenLabs message unknown", zap.ByteString("payload", data))
			b.logger.Debug("ElevenLabs decode error", zap.Error(err))
			continue
		}
		if err := b.handleTTS(ctx, m, msg); err != nil {
			return err
		}
	}
}

func (b *Backend) handleTTS(ctx context.Context, m *call.Manager, msg elevenlabs.Received) error {
	switch msg := msg.(type) {
	case *elevenlabs.AudioOutput:
		itemID, ok := b.itemFor(msg.ContextID)
		if !ok {
			b.logger.Debug("Dropping audio of closed or interrupted context", zap.String("context_id", msg.ContextID))
			return nil
		}
		if err := m.SendMedia(ctx, msg.Audio); err != nil {
			return err
		}
		m.Session().BeginResponseAudio(itemID)
		return m.SendResponsePartMark(ctx)
	case *elevenlabs.FinalOutput:
		if _, ok := b.itemFor(msg.ContextID); !ok {
			return nil
		}
		b.forget(msg.ContextID)
		return m.SendResponseDoneMark(ctx)
	}
	return nil
}

// Interrupt closes the context playing the cut item. Audio it still
// delivers is dropped.
func (b *Backend) Interrupt(ctx context.Context, cut call.Interruption) error {
	b.mu.Lock()
	b.interrupted[cut.ItemID] = true
	contextID, ok := b.contexts[cut.ItemID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	b.forget(contextID)
	return b.send(ctx, elevenlabs.NewCloseContext(contextID))
}

// itemFor resolves the item a context speaks. Contexts of interrupted items
// resolve to nothing.
func (b *Backend) itemFor(contextID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	itemID, ok := b.items[contextID]
	if !ok || b.interrupted[itemID] {
		return "", false
	}
	return itemID, true
}

func (b *Backend) forget(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if itemID, ok := b.items[contextID]; ok {
		delete(b.contexts, itemID)
	}
	delete(b.items, contextID)
}

func (b *Backend) send(ctx context.Context, msg elevenlabs.Message) error {
	payload, err := elevenlabs.Marshal(msg)
	if err != nil {
		return err
	}
	return b.tts.WriteMessage(ctx, payload)
}

func (b *Backend) SendAudio(ctx context.Context, payload string) error {
	return b.openai.SendAudio(ctx, payload)
}

func (b *Backend) SendText(ctx context.Context, text string) error {
	return b.openai.SendText(ctx, text)
}

func (b *Backend) Transcript() string {
	return b.openai.Transcript().String()
}

// Close closes both connections.
func (b *Backend) Close() error {
	return errors.Join(b.openai.Close(), b.tts.Close())
}
