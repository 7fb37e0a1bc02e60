package call

import (
	"context"
	"sync"
	"time"

	"github.com/daniil-berg/callbot/domain/entities"
)

// Mark names sent to Twilio after outbound audio.
const (
	// MarkResponsePart follows every chunk of response audio.
	MarkResponsePart = "responsePart"
	// MarkDone follows the last chunk of a response. Its echo means the
	// caller heard the whole reply.
	MarkDone = "done"
)

// Session is the mutable state of one call. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	streamSid string
	callSid   string
	startedAt time.Time

	latestMediaTimestamp int64
	responseStart        *int64
	activeItem           string
	marks                []string

	speechOngoing *Flag
	transcript    *Transcript

	contact      *entities.Contact
	contactReady chan struct{}
}

// NewSession creates the state of a call whose stream has not started yet.
func NewSession() *Session {
	return &Session{
		speechOngoing: NewFlag(),
		transcript:    NewTranscript(),
		contactReady:  make(chan struct{}),
	}
}

// Start records the stream metadata of the Twilio handshake. Only the first
// call has an effect.
func (s *Session) Start(streamSid, callSid string, contact *entities.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSid != "" {
		return
	}
	s.streamSid = streamSid
	s.callSid = callSid
	s.startedAt = time.Now()
	s.contact = contact
	close(s.contactReady)
}

func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

func (s *Session) CallSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSid
}

// StartedAt is the time the stream started, zero before that.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Contact returns the contact, or nil before the stream started.
func (s *Session) Contact() *entities.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contact
}

// WaitContact blocks until the handshake delivered the contact.
func (s *Session) WaitContact(ctx context.Context) (*entities.Contact, error) {
	select {
	case <-s.contactReady:
		return s.Contact(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateMediaTimestamp advances the playback clock to ts. Older timestamps
// are ignored. It returns the resulting clock value.
func (s *Session) UpdateMediaTimestamp(ts int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.latestMediaTimestamp {
		s.latestMediaTimestamp = ts
	}
	return s.latestMediaTimestamp
}

func (s *Session) LatestMediaTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMediaTimestamp
}

// BeginResponseAudio notes that audio of itemID is being played. The
// response start is recorded on the first chunk of each item, so a
// response that arrives while the previous one is still queued gets its
// own start.
func (s *Session) BeginResponseAudio(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responseStart == nil || itemID != s.activeItem {
		start := s.latestMediaTimestamp
		s.responseStart = &start
	}
	s.activeItem = itemID
}

// ResponseStart returns the media timestamp at which the current response
// started playing.
func (s *Session) ResponseStart() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responseStart == nil {
		return 0, false
	}
	return *s.responseStart, true
}

// ActiveItem returns the item currently played back, or "".
func (s *Session) ActiveItem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeItem
}

// PendingMarks returns the number of marks not yet echoed by Twilio.
func (s *Session) PendingMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

func (s *Session) pushMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, name)
}

func (s *Session) popMark() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) == 0 {
		return "", false
	}
	name := s.marks[0]
	s.marks = s.marks[1:]
	return name, true
}

// clearMarks forgets pending marks together with the response they belong
// to. Audio queued before the clear is never played.
func (s *Session) clearMarks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = nil
	s.responseStart = nil
	s.activeItem = ""
}

// finishResponse forgets the played response once all of its marks came
// back.
func (s *Session) finishResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) > 0 {
		return false
	}
	s.responseStart = nil
	s.activeItem = ""
	return true
}

// Interruption describes the response cut off by the caller.
type Interruption struct {
	ItemID string
	// AudioEndMs is how much of the response the caller heard.
	AudioEndMs int64
}

// takeInterruption resets the in-flight response and reports what was cut
// off. It fails if no response audio is queued.
func (s *Session) takeInterruption() (Interruption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) == 0 || s.responseStart == nil || s.activeItem == "" {
		return Interruption{}, false
	}
	cut := Interruption{
		ItemID:     s.activeItem,
		AudioEndMs: max(s.latestMediaTimestamp-*s.responseStart, 0),
	}
	s.responseStart = nil
	s.activeItem = ""
	return cut, true
}

// SpeechOngoing is set while someone talks or reply audio is playing.
func (s *Session) SpeechOngoing() *Flag {
	return s.speechOngoing
}

func (s *Session) Transcript() *Transcript {
	return s.transcript
}
