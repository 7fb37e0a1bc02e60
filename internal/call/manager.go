package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/metrics"
	"github.com/daniil-berg/callbot/internal/protocol/twilio"
	"github.com/daniil-berg/callbot/internal/websocket"
)

const (
	DefaultSpeechStartTimeout = 15 * time.Second
	DefaultWatchdogInterval   = time.Second
	DefaultHandshakeTimeout   = 10 * time.Second

	// TokenParameter is the custom stream parameter carrying the call token.
	TokenParameter = "token"
)

// State is the lifecycle stage of a call.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the Twilio media stream connection of a call.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
	CloseWithCode(code int, reason string) error
}

// TokenRedeemer validates and invalidates single-use call tokens.
type TokenRedeemer interface {
	RedeemAndInvalidate(ctx context.Context, token string) (*auth.Claims, error)
}

// Options configures a Manager.
type Options struct {
	BackendName string
	Tokens      TokenRedeemer
	Hooks       *Hooks
	Registry    *Registry
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	SpeechStartTimeout time.Duration
	WatchdogInterval   time.Duration
	HandshakeTimeout   time.Duration

	// InitConversationPrompt, if set, makes the bot speak first. $field
	// placeholders are filled from the contact.
	InitConversationPrompt string
	LogTranscript          bool
}

// Outcome is the classified end of a call.
type Outcome struct {
	Severity    Severity
	AuthFailure bool
	Err         error
}

// Reason describes the outcome for logs and records.
func (o *Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Manager runs one call: it owns the Twilio connection and the backend,
// translates between them and decides when the call ends.
type Manager struct {
	opts      Options
	telephony Transport
	backend   Backend
	session   *Session
	logger    *zap.Logger

	state atomic.Int32
	abort chan error

	causeMu  sync.Mutex
	cause    error
	activity string

	background sync.WaitGroup
	closeOnce  sync.Once
}

// NewManager creates the manager of a call whose sockets are connected.
func NewManager(telephony Transport, backend Backend, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SpeechStartTimeout <= 0 {
		opts.SpeechStartTimeout = DefaultSpeechStartTimeout
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Manager{
		opts:      opts,
		telephony: telephony,
		backend:   backend,
		session:   NewSession(),
		logger:    opts.Logger,
		abort:     make(chan error, 1),
	}
}

func (m *Manager) Session() *Session {
	return m.session
}

// Logger returns the call logger. Once the stream started it carries the
// call and stream SIDs.
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// LogTranscriptLine logs a completed transcript line if transcripts are
// logged.
func (m *Manager) LogTranscriptLine(line string) {
	if m.opts.LogTranscript {
		m.logger.Info("Transcript line", zap.String("line", line))
	}
}

func (m *Manager) Hooks() *Hooks {
	return m.opts.Hooks
}

func (m *Manager) Metrics() *metrics.Metrics {
	return m.opts.Metrics
}

func (m *Manager) Backend() Backend {
	return m.backend
}

// BackendName is the configured name of the backend, used in records and
// metrics.
func (m *Manager) BackendName() string {
	return m.opts.BackendName
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.logger.Debug("Call state changed", zap.Stringer("state", s))
}

// Abort ends the call from outside its activities. Only one abort can be
// pending; further ones are logged and dropped.
func (m *Manager) Abort(err error) bool {
	select {
	case m.abort <- err:
		return true
	default:
		m.logger.Error("Abort already pending, dropping", zap.Error(err))
		return false
	}
}

// Run bridges the call until it ends and returns how it ended. Both
// connections are closed when Run returns.
func (m *Manager) Run(ctx context.Context) *Outcome {
	defer m.setState(StateClosed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, m.closeConnections)
	defer stop()

	if err := m.backend.InitSession(ctx); err != nil {
		m.recordCause("init session", ActivityError("init session", err))
		return m.end(ctx)
	}

	m.setState(StateAuthenticating)
	if err := m.authenticate(ctx); err != nil {
		m.recordCause("authenticate", err)
		return m.end(ctx)
	}
	m.opts.Hooks.AfterCallStart(ctx, m)

	m.setState(StateActive)
	m.opts.Metrics.RecordCallStart()

	g, gctx := errgroup.WithContext(ctx)
	stopGroup := context.AfterFunc(gctx, m.closeConnections)
	defer stopGroup()
	m.spawn(g, gctx, "twilio listen", m.listenTelephony)
	m.spawn(g, gctx, "backend listen", m.listenBackend)
	m.spawn(g, gctx, "watchdog", m.watchdog)
	m.spawn(g, gctx, "abort wait", m.waitAbort)
	g.Wait()

	return m.end(ctx)
}

// spawn runs an activity in the group. An activity returning at all ends
// the call, so a nil result is turned into an informational end.
func (m *Manager) spawn(g *errgroup.Group, ctx context.Context, name string, fn func(context.Context) error) {
	g.Go(func() error {
		err := fn(ctx)
		if err == nil {
			err = Hangup("%s finished", name)
		}
		m.recordCause(name, err)
		return err
	})
}

// recordCause keeps the first termination cause. Later ones are logged.
func (m *Manager) recordCause(activity string, err error) {
	m.causeMu.Lock()
	defer m.causeMu.Unlock()
	if m.cause == nil {
		m.cause = err
		m.activity = activity
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	m.logger.Warn("Secondary termination cause",
		zap.String("activity", activity),
		zap.Error(err))
}

func (m *Manager) firstCause() (string, error) {
	m.causeMu.Lock()
	defer m.causeMu.Unlock()
	return m.activity, m.cause
}

// end performs the shutdown sequence.
func (m *Manager) end(ctx context.Context) *Outcome {
	m.setState(StateEnding)
	m.closeConnections()
	m.background.Wait()

	activity, cause := m.firstCause()
	outcome := classify(cause)
	m.logOutcome(outcome, activity)

	// Hooks still get to run when the call ended because ctx was cancelled.
	hookCtx := context.WithoutCancel(ctx)
	m.opts.Hooks.AfterCallEnd(hookCtx, m, outcome)

	callSid := m.session.CallSid()
	if m.opts.Registry != nil && callSid != "" {
		m.opts.Registry.Unregister(callSid, m)
	}
	if !m.session.StartedAt().IsZero() {
		m.opts.Metrics.RecordCallEnd(m.opts.BackendName, outcome.Severity.String(), time.Since(m.session.StartedAt()))
	}
	if m.opts.LogTranscript {
		m.logger.Info("Call transcript", zap.String("transcript", m.backend.Transcript()))
	}
	return outcome
}

func classify(cause error) *Outcome {
	var authErr *AuthError
	switch {
	case cause == nil:
		return &Outcome{Severity: SeverityInfo, Err: Hangup("Call ended")}
	case errors.As(cause, &authErr):
		return &Outcome{Severity: SeverityWarning, AuthFailure: true, Err: authErr}
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return &Outcome{Severity: SeverityInfo, Err: Hangup("Call cancelled")}
	}
	if endCall, ok := AsEndCall(cause); ok {
		return &Outcome{Severity: endCall.Severity, Err: endCall}
	}
	return &Outcome{Severity: SeverityError, Err: ActivityError("call", cause)}
}

func (m *Manager) logOutcome(o *Outcome, activity string) {
	fields := []zap.Field{zap.String("activity", activity), zap.String("reason", o.Reason())}
	switch {
	case o.AuthFailure:
		m.logger.Warn("Call rejected", fields...)
	case o.Severity == SeverityInfo:
		m.logger.Info("Call ended", fields...)
	case o.Severity == SeverityWarning:
		m.logger.Warn("Call ended", fields...)
	default:
		m.logger.Error("Call ended", append(fields, zap.Error(o.Err))...)
	}
}

// closeConnections closes both sockets once. Close failures are logged.
func (m *Manager) closeConnections() {
	m.closeOnce.Do(func() {
		code, reason := websocket.CloseNormalClosure, ""
		if _, cause := m.firstCause(); cause != nil {
			var authErr *AuthError
			if errors.As(cause, &authErr) {
				code, reason = websocket.ClosePolicyViolation, authErr.Detail()
			}
		}
		if err := m.telephony.CloseWithCode(code, reason); err != nil && !websocket.IsClosedError(err) {
			m.logger.Warn("Failed to close Twilio websocket", zap.Error(err))
		}
		if err := m.backend.Close(); err != nil && !websocket.IsClosedError(err) {
			m.logger.Warn("Failed to close backend", zap.Error(err))
		}
	})
}

// readTelephony reads and decodes the next Twilio message. Undecodable
// messages are logged and skipped.
func (m *Manager) readTelephony() (twilio.Message, error) {
	for {
		data, err := m.telephony.ReadMessage()
		if err != nil {
			if websocket.IsClosedError(err) || errors.Is(err, io.EOF) {
				return nil, TelephonyDisconnected()
			}
			return nil, err
		}
		m.opts.Metrics.RecordMessage("twilio", "in")
		msg, err := twilio.ParseInbound(data)
		if err != nil {
			m.opts.Metrics.RecordDecodeError("twilio")
			m.logger.Error("Twilio message unknown", zap.ByteString("payload", data))
			m.logger.Debug("Twilio decode error", zap.Error(err))
			continue
		}
		return msg, nil
	}
}

// authenticate waits for the start message and redeems its call token.
func (m *Manager) authenticate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.recordCause("authenticate", &AuthError{Err: fmt.Errorf("%w: no start message within %s", auth.ErrTokenInvalid, m.opts.HandshakeTimeout)})
			m.closeConnections()
		}
	})
	defer stop()

	for {
		msg, err := m.readTelephony()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch msg := msg.(type) {
		case *twilio.Connected:
			m.logger.Debug("Twilio connected", zap.String("protocol", msg.Protocol))
		case *twilio.Start:
			return m.start(ctx, msg)
		case *twilio.Stop:
			return TelephonyStop()
		default:
			m.logger.Debug("Ignoring message before stream start", zap.String("event", string(msg.EventName())))
		}
	}
}

func (m *Manager) start(ctx context.Context, msg *twilio.Start) error {
	params := make(map[string]string, len(msg.Start.CustomParameters))
	for k, v := range msg.Start.CustomParameters {
		params[k] = v
	}
	token := params[TokenParameter]
	delete(params, TokenParameter)

	if m.opts.Tokens == nil {
		return &AuthError{Err: fmt.Errorf("%w: no token service", auth.ErrTokenInvalid)}
	}
	if _, err := m.opts.Tokens.RedeemAndInvalidate(ctx, token); err != nil {
		m.opts.Metrics.RecordTokenRedemption("rejected")
		return &AuthError{Err: err}
	}
	m.opts.Metrics.RecordTokenRedemption("accepted")

	m.session.Start(msg.Start.StreamSid, msg.Start.CallSid, entities.ContactFromFields(params))
	m.logger = m.logger.With(
		zap.String("call_sid", msg.Start.CallSid),
		zap.String("stream_sid", msg.Start.StreamSid))
	m.logger.Info("Media stream started", zap.String("encoding", msg.Start.MediaFormat.Encoding))

	if m.opts.Registry != nil {
		m.opts.Registry.Register(msg.Start.CallSid, m)
	}
	return nil
}

func (m *Manager) listenTelephony(ctx context.Context) error {
	for {
		msg, err := m.readTelephony()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, ok := AsEndCall(err); ok {
				return err
			}
			return ActivityError("twilio listen", err)
		}
		if err := m.handleTelephony(ctx, msg); err != nil {
			return err
		}
	}
}

func (m *Manager) handleTelephony(ctx context.Context, msg twilio.Message) error {
	switch msg := msg.(type) {
	case *twilio.Media:
		m.session.UpdateMediaTimestamp(int64(msg.Media.Timestamp))
		if err := m.backend.SendAudio(ctx, msg.Media.Payload); err != nil {
			return ActivityError("twilio listen", fmt.Errorf("forwarding audio: %w", err))
		}
	case *twilio.Mark:
		m.handleMark(msg.Mark.Name)
	case *twilio.Stop:
		return TelephonyStop()
	case *twilio.DTMF:
		m.logger.Info("DTMF received", zap.String("digit", msg.DTMF.Digit))
	case *twilio.Start:
		m.logger.Warn("Ignoring repeated start message")
	default:
		m.logger.Debug("Ignoring Twilio message", zap.String("event", string(msg.EventName())))
	}
	return nil
}

// handleMark processes a mark echoed by Twilio after playing the audio in
// front of it.
func (m *Manager) handleMark(name string) {
	if name == MarkDone {
		m.session.SpeechOngoing().Clear()
		if m.session.finishResponse() {
			m.logger.Debug("Response fully played")
		}
		return
	}
	m.session.SpeechOngoing().Set()
	m.session.popMark()
}

func (m *Manager) listenBackend(ctx context.Context) error {
	if m.opts.InitConversationPrompt != "" {
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			if err := m.startConversation(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Failed to start conversation", zap.Error(err))
			}
		}()
	}
	err := m.backend.Listen(ctx, m)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return nil
	}
	if _, ok := AsEndCall(err); ok {
		return err
	}
	return ActivityError("backend listen", err)
}

// startConversation prompts the AI to speak first.
func (m *Manager) startConversation(ctx context.Context) error {
	m.opts.Hooks.BeforeConversationStart(ctx, m)
	contact, err := m.session.WaitContact(ctx)
	if err != nil {
		return err
	}
	prompt := RenderPrompt(m.opts.InitConversationPrompt, contact.Fields())
	return m.backend.SendText(ctx, prompt)
}

func (m *Manager) waitAbort(ctx context.Context) error {
	select {
	case err := <-m.abort:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) sendTelephony(ctx context.Context, msg twilio.Message) error {
	payload, err := twilio.Marshal(msg)
	if err != nil {
		return err
	}
	if err := m.telephony.WriteMessage(ctx, payload); err != nil {
		return err
	}
	m.opts.Metrics.RecordMessage("twilio", "out")
	return nil
}

// SendMedia plays a base64 encoded chunk of audio to the caller.
func (m *Manager) SendMedia(ctx context.Context, payload string) error {
	streamSid := m.session.StreamSid()
	if streamSid == "" {
		m.logger.Debug("Dropping audio before stream start")
		return nil
	}
	return m.sendTelephony(ctx, twilio.NewMedia(streamSid, payload))
}

// SendResponsePartMark queues a mark behind the audio sent so far.
func (m *Manager) SendResponsePartMark(ctx context.Context) error {
	streamSid := m.session.StreamSid()
	if streamSid == "" {
		return nil
	}
	if err := m.sendTelephony(ctx, twilio.NewMark(streamSid, MarkResponsePart)); err != nil {
		return err
	}
	m.session.pushMark(MarkResponsePart)
	return nil
}

// SendResponseDoneMark marks the end of a response. It is not queued.
func (m *Manager) SendResponseDoneMark(ctx context.Context) error {
	streamSid := m.session.StreamSid()
	if streamSid == "" {
		return nil
	}
	return m.sendTelephony(ctx, twilio.NewMark(streamSid, MarkDone))
}

// ClearMarks makes Twilio drop buffered audio and forgets pending marks
// and the response being played.
func (m *Manager) ClearMarks(ctx context.Context) error {
	if err := m.sendTelephony(ctx, twilio.NewClear(m.session.StreamSid())); err != nil {
		return err
	}
	m.session.clearMarks()
	return nil
}
