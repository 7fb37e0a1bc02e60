// Command streamclient plays the Twilio side of a media stream against a
// running callbot server. It is a development tool: it streams a raw 8 kHz
// µ-law file as caller audio, acknowledges marks and logs what the bot
// sends back.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/protocol/twilio"
)

const (
	// frameBytes is 20ms of 8 kHz µ-law audio.
	frameBytes    = 160
	frameInterval = 20 * time.Millisecond
)

type options struct {
	url    string
	token  string
	audio  string
	params []string
	linger time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "streamclient: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "streamclient",
		Short:         "Fake a Twilio media stream against the callbot server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				opts.token = os.Getenv("CALLBOT_TOKEN")
			}
			if opts.token == "" {
				return errors.New("a call token is required (--token or CALLBOT_TOKEN, see `callbot token`)")
			}
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			params[call.TokenParameter] = opts.token

			logger, _ := zap.NewDevelopment()
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, params, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:8080/stream", "media stream endpoint")
	flags.StringVar(&opts.token, "token", "", "single-use call token")
	flags.StringVar(&opts.audio, "audio", "", "raw 8 kHz µ-law file to stream as caller audio (silence if empty)")
	flags.StringArrayVarP(&opts.params, "param", "p", nil, "contact field as key=value, repeatable")
	flags.DurationVar(&opts.linger, "linger", 10*time.Second, "how long to keep listening after the audio ended")
	return cmd
}

func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw)+1)
	for _, p := range raw {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", p)
		}
		params[key] = value
	}
	return params, nil
}

// stream is the client end of one media stream.
type stream struct {
	conn      *websocket.Conn
	streamSid string
	callSid   string
	logger    *zap.Logger

	mu       sync.Mutex
	sequence int64
}

func (s *stream) send(msg twilio.Message) error {
	data, err := twilio.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *stream) seq() twilio.Number {
	s.mu.Lock()
	defer s.mu.Unlock()
	return twilio.Number(s.sequence + 1)
}

func run(ctx context.Context, opts *options, params map[string]string, logger *zap.Logger) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()

	s := &stream{
		conn:      conn,
		streamSid: "MZ" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		callSid:   "CA" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		logger:    logger,
	}
	logger.Info("Connected", zap.String("url", opts.url), zap.String("call_sid", s.callSid))

	if err := s.handshake(params); err != nil {
		return err
	}

	readDone := make(chan error, 1)
	go func() { readDone <- s.readLoop() }()

	audio, err := openAudio(opts.audio)
	if err != nil {
		return err
	}
	defer audio.Close()

	sendDone := make(chan error, 1)
	go func() { sendDone <- s.streamAudio(ctx, audio) }()

	select {
	case err := <-readDone:
		logger.Info("Server closed the stream", zap.Error(err))
		return nil
	case err := <-sendDone:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	if ctx.Err() == nil {
		logger.Info("Audio finished, listening", zap.Duration("linger", opts.linger))
		select {
		case err := <-readDone:
			logger.Info("Server closed the stream", zap.Error(err))
			return nil
		case <-time.After(opts.linger):
		case <-ctx.Done():
		}
	}

	logger.Info("Hanging up")
	if err := s.send(&twilio.Stop{
		Event:          twilio.EventStop,
		SequenceNumber: s.seq(),
		StreamSid:      s.streamSid,
		Stop:           twilio.StopInfo{CallSid: s.callSid},
	}); err != nil {
		return err
	}
	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (s *stream) handshake(params map[string]string) error {
	if err := s.send(&twilio.Connected{Event: twilio.EventConnected, Protocol: "Call", Version: "1.0.0"}); err != nil {
		return err
	}
	return s.send(&twilio.Start{
		Event:          twilio.EventStart,
		SequenceNumber: s.seq(),
		StreamSid:      s.streamSid,
		Start: twilio.StartInfo{
			StreamSid:        s.streamSid,
			CallSid:          s.callSid,
			Tracks:           []string{"inbound"},
			CustomParameters: params,
			MediaFormat:      twilio.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})
}

// streamAudio sends one frame every 20ms, like a live call.
func (s *stream) streamAudio(ctx context.Context, audio io.Reader) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	buf := make([]byte, frameBytes)
	var chunk int64
	for {
		n, err := io.ReadFull(audio, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read audio: %w", err)
		}
		chunk++
		if err := s.send(&twilio.Media{
			Event:          twilio.EventMedia,
			SequenceNumber: s.seq(),
			StreamSid:      s.streamSid,
			Media: twilio.InboundMedia{
				Track:     "inbound",
				Chunk:     twilio.Number(chunk),
				Timestamp: twilio.Number(chunk * frameInterval.Milliseconds()),
				Payload:   base64.StdEncoding.EncodeToString(buf[:n]),
			},
		}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// readLoop logs what the bot sends and acknowledges marks as if the audio
// before them had been played.
func (s *stream) readLoop() error {
	var audioBytes int
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := twilio.ParseOutbound(data)
		if err != nil {
			s.logger.Warn("Unparseable message", zap.Error(err), zap.ByteString("data", data))
			continue
		}
		switch m := msg.(type) {
		case *twilio.OutboundMedia:
			decoded, _ := base64.StdEncoding.DecodeString(m.Media.Payload)
			audioBytes += len(decoded)
		case *twilio.OutboundMark:
			s.logger.Info("Mark", zap.String("name", m.Mark.Name), zap.Int("audio_bytes", audioBytes))
			audioBytes = 0
			if err := s.send(&twilio.Mark{
				Event:          twilio.EventMark,
				SequenceNumber: s.seq(),
				StreamSid:      s.streamSid,
				Mark:           twilio.MarkInfo{Name: m.Mark.Name},
			}); err != nil {
				return err
			}
		case *twilio.Clear:
			s.logger.Info("Clear", zap.Int("dropped_audio_bytes", audioBytes))
			audioBytes = 0
		default:
			s.logger.Info("Message", zap.String("event", string(msg.EventName())))
		}
	}
}

// silence yields a fixed amount of µ-law silence.
type silence struct{ remaining int }

func (s *silence) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	n := min(len(p), s.remaining)
	for i := range p[:n] {
		p[i] = 0xFF
	}
	s.remaining -= n
	return n, nil
}

func (*silence) Close() error { return nil }

func openAudio(path string) (io.ReadCloser, error) {
	if path == "" {
		// Five seconds of silence.
		return &silence{remaining: 5 * 8000}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	return f, nil
}
