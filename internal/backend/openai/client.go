package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/functions"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
	"github.com/daniil-berg/callbot/internal/websocket"
)

const (
	DefaultURL                = "wss://api.openai.com/v1/realtime"
	DefaultModel              = "gpt-4o-realtime-preview"
	DefaultVoice              = "alloy"
	DefaultTranscriptionModel = "whisper-1"
)

// Config configures the realtime session.
type Config struct {
	APIKey             string
	URL                string
	Model              string
	Voice              string
	Instructions       string
	Temperature        *float64
	Speed              *float64
	TranscriptionModel string
	// LogEventTypes are server event types logged at info level.
	LogEventTypes []string
}

// Endpoint returns the websocket URL including the model.
func (c Config) Endpoint() (string, error) {
	base := c.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing realtime url: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		model := c.Model
		if model == "" {
			model = DefaultModel
		}
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is the realtime websocket.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
	Close() error
}

// Client speaks the realtime protocol on behalf of a backend. It handles
// the events both backends share: transcript, caller speech, errors and
// function calls.
type Client struct {
	cfg        Config
	conn       Conn
	dispatcher *functions.Dispatcher
	logger     *zap.Logger
	logTypes   map[realtime.EventType]bool
	transcript atomic.Pointer[call.Transcript]
}

// Dial connects to the realtime API.
func Dial(ctx context.Context, cfg Config, dispatcher *functions.Dispatcher, logger *zap.Logger) (*Client, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	conn, err := websocket.Dial(ctx, endpoint, header, "openai", logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to openai: %w", err)
	}
	return NewClient(conn, cfg, dispatcher, logger), nil
}

func NewClient(conn Conn, cfg Config, dispatcher *functions.Dispatcher, logger *zap.Logger) *Client {
	logTypes := make(map[realtime.EventType]bool, len(cfg.LogEventTypes))
	for _, t := range cfg.LogEventTypes {
		logTypes[realtime.EventType(t)] = true
	}
	c := &Client{
		cfg:        cfg,
		conn:       conn,
		dispatcher: dispatcher,
		logger:     logger,
		logTypes:   logTypes,
	}
	c.transcript.Store(call.NewTranscript())
	return c
}

// Bind makes the client record into the transcript of m's session.
func (c *Client) Bind(m *call.Manager) {
	c.transcript.Store(m.Session().Transcript())
	c.logger = m.Logger()
}

func (c *Client) Transcript() *call.Transcript {
	return c.transcript.Load()
}

// Configure sends the session configuration.
func (c *Client) Configure(ctx context.Context, modalities []string) error {
	voice := c.cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	transcriptionModel := c.cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = DefaultTranscriptionModel
	}
	session := realtime.Session{
		Modalities:              modalities,
		Instructions:            c.cfg.Instructions,
		Voice:                   voice,
		InputAudioFormat:        realtime.AudioFormatG711ULaw,
		OutputAudioFormat:       realtime.AudioFormatG711ULaw,
		InputAudioTranscription: &realtime.InputAudioTranscription{Model: transcriptionModel},
		TurnDetection:           &realtime.TurnDetection{Type: realtime.TurnDetectionServerVAD},
		Temperature:             c.cfg.Temperature,
		Speed:                   c.cfg.Speed,
	}
	if c.dispatcher != nil {
		session.Tools = c.dispatcher.Registry().Tools()
		if len(session.Tools) > 0 {
			session.ToolChoice = "auto"
		}
	}
	c.logger.Debug("Configuring realtime session", zap.Strings("modalities", modalities), zap.Int("tools", len(session.Tools)))
	return c.Send(ctx, realtime.NewSessionUpdate(session))
}

// Send writes a client event.
func (c *Client) Send(ctx context.Context, event realtime.Event) error {
	payload, err := realtime.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event.EventType(), err)
	}
	return c.conn.WriteMessage(ctx, payload)
}

func (c *Client) SendAudio(ctx context.Context, payload string) error {
	return c.Send(ctx, realtime.NewAudioAppend(payload))
}

// SendText adds a user message and asks for a response to it.
func (c *Client) SendText(ctx context.Context, text string) error {
	if err := c.Send(ctx, realtime.NewUserPrompt(text)); err != nil {
		return err
	}
	return c.Resume(ctx)
}

// Resume asks the AI for a response.
func (c *Client) Resume(ctx context.Context) error {
	return c.Send(ctx, realtime.NewResponseCreate())
}

// Truncate cuts the audio of an item at what the caller heard.
func (c *Client) Truncate(ctx context.Context, cut call.Interruption) error {
	return c.Send(ctx, realtime.NewTruncate(cut.ItemID, cut.AudioEndMs))
}

// Next reads the next server event. Undecodable events are logged and
// skipped. Connection errors are returned unchanged.
func (c *Client) Next(m *call.Manager) (realtime.Event, error) {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		m.Metrics().RecordMessage("openai", "in")
		event, err := realtime.ParseServerEvent(data)
		if err != nil {
			m.Metrics().RecordDecodeError("openai")
			c.logger.Error("OpenAI message unknown", zap.ByteString("payload", data))
			c.logger.Debug("OpenAI decode error", zap.Error(err))
			continue
		}
		if c.logTypes[event.EventType()] {
			c.logger.Info("OpenAI event", zap.String("type", string(event.EventType())), zap.ByteString("payload", data))
		}
		return event, nil
	}
}

// Handle processes the events common to all backends. It reports whether
// the event was handled.
func (c *Client) Handle(ctx context.Context, m *call.Manager, event realtime.Event, interrupter call.Interrupter) (bool, error) {
	transcript := c.Transcript()
	switch ev := event.(type) {
	case *realtime.ErrorEvent:
		c.logger.Warn("OpenAI error", zap.Error(ev.Error))
	case *realtime.SessionEvent:
		c.logger.Debug("OpenAI session", zap.String("type", string(ev.Type)), zap.String("session_id", ev.Session.ID))
	case *realtime.InputAudioBufferCommitted:
		transcript.Reserve(ev.ItemID)
	case *realtime.InputAudioTranscriptionCompleted:
		c.fill(m, transcript, ev.ItemID, fmt.Sprintf(`Contact: "%s"`, strings.TrimSpace(ev.Transcript)))
	case *realtime.ResponseContentPart:
		if ev.Type == realtime.EventResponseContentPartAdded {
			transcript.Reserve(ev.ItemID)
			break
		}
		text := ev.Part.Transcript
		if ev.Part.Type == "text" {
			text = ev.Part.Text
		}
		c.fill(m, transcript, ev.ItemID, fmt.Sprintf(`Callbot: "%s"`, strings.TrimSpace(text)))
	case *realtime.InputAudioBufferSpeechStarted:
		c.logger.Debug("Caller speech started", zap.Int64("audio_start_ms", ev.AudioStartMs))
		if err := m.HandleSpeechStarted(ctx, interrupter); err != nil {
			return true, err
		}
	case *realtime.ResponseDone:
		if c.dispatcher == nil {
			break
		}
		if err := c.dispatcher.HandleResponse(ctx, m, ev.Response, c.Resume); err != nil {
			return true, err
		}
	default:
		return false, nil
	}
	return true, nil
}

// fill completes a transcript line reserved earlier.
func (c *Client) fill(m *call.Manager, transcript *call.Transcript, itemID, line string) {
	if !transcript.Fill(itemID, line) {
		c.logger.Error("No item ID for transcription", zap.String("item_id", itemID), zap.String("line", line))
		return
	}
	m.LogTranscriptLine(line)
}

func (c *Client) Close() error {
	err := c.conn.Close()
	if errors.Is(err, websocket.ErrClosed) {
		return nil
	}
	return err
}
