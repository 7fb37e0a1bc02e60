package openai

import (
	"context"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/functions"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
	"github.com/daniil-berg/callbot/internal/websocket"
)

// Name is the configuration name of the backend.
const Name = "openai"

// Backend lets the realtime API both listen and speak.
type Backend struct {
	client *Client
}

var _ call.Backend = (*Backend)(nil)

func New(client *Client) *Backend {
	return &Backend{client: client}
}

// Factory connects a new backend per call.
func Factory(cfg Config, dispatcher *functions.Dispatcher) call.BackendFactory {
	return func(ctx context.Context, logger *zap.Logger) (call.Backend, error) {
		client, err := Dial(ctx, cfg, dispatcher, logger)
		if err != nil {
			return nil, err
		}
		return New(client), nil
	}
}

func (b *Backend) InitSession(ctx context.Context) error {
	return b.client.Configure(ctx, []string{realtime.ModalityText, realtime.ModalityAudio})
}

func (b *Backend) Listen(ctx context.Context, m *call.Manager) error {
	b.client.Bind(m)
	for {
		event, err := b.client.Next(m)
		if err != nil {
			if websocket.IsClosedError(err) {
				return nil
			}
			return err
		}
		if err := b.handle(ctx, m, event); err != nil {
			return err
		}
	}
}

func (b *Backend) handle(ctx context.Context, m *call.Manager, event realtime.Event) error {
	switch ev := event.(type) {
	case *realtime.ResponseAudioDelta:
		if err := m.SendMedia(ctx, ev.Delta); err != nil {
			return err
		}
		m.Session().BeginResponseAudio(ev.ItemID)
		return m.SendResponsePartMark(ctx)
	case *realtime.ResponseAudioDone:
		return m.SendResponseDoneMark(ctx)
	}
	_, err := b.client.Handle(ctx, m, event, call.InterrupterFunc(b.client.Truncate))
	return err
}

func (b *Backend) SendAudio(ctx context.Context, payload string) error {
	return b.client.SendAudio(ctx, payload)
}

func (b *Backend) SendText(ctx context.Context, text string) error {
	return b.client.SendText(ctx, text)
}

func (b *Backend) Transcript() string {
	return b.client.Transcript().String()
}

func (b *Backend) Close() error {
	return b.client.Close()
}
