// Package realtime implements the subset of the OpenAI Realtime API events
// exchanged by the call bridge.
//
// Server events are received from the API, client events are sent to it.
// Events are discriminated by their "type" field.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the discriminator of an event.
type EventType string

// Server event types the bridge acts on.
const (
	EventError                              EventType = "error"
	EventSessionCreated                     EventType = "session.created"
	EventSessionUpdated                     EventType = "session.updated"
	EventInputAudioBufferCommitted          EventType = "input_audio_buffer.committed"
	EventInputAudioBufferSpeechStarted      EventType = "input_audio_buffer.speech_started"
	EventInputAudioTranscriptionCompleted   EventType = "conversation.item.input_audio_transcription.completed"
	EventResponseContentPartAdded           EventType = "response.content_part.added"
	EventResponseContentPartDone            EventType = "response.content_part.done"
	EventResponseAudioDelta                 EventType = "response.audio.delta"
	EventResponseAudioDone                  EventType = "response.audio.done"
	EventResponseTextDelta                  EventType = "response.text.delta"
	EventResponseTextDone                   EventType = "response.text.done"
	EventResponseDone                       EventType = "response.done"
	EventInputAudioTranscriptionDelta       EventType = "conversation.item.input_audio_transcription.delta"
	EventInputAudioTranscriptionFailed      EventType = "conversation.item.input_audio_transcription.failed"
	EventConversationItemCreated            EventType = "conversation.item.created"
	EventConversationItemTruncated          EventType = "conversation.item.truncated"
	EventInputAudioBufferSpeechStopped      EventType = "input_audio_buffer.speech_stopped"
	EventRateLimitsUpdated                  EventType = "rate_limits.updated"
	EventResponseCreated                    EventType = "response.created"
	EventResponseOutputItemAdded            EventType = "response.output_item.added"
	EventResponseOutputItemDone             EventType = "response.output_item.done"
	EventResponseAudioTranscriptDelta       EventType = "response.audio_transcript.delta"
	EventResponseAudioTranscriptDone        EventType = "response.audio_transcript.done"
	EventResponseFunctionCallArgumentsDelta EventType = "response.function_call_arguments.delta"
	EventResponseFunctionCallArgumentsDone  EventType = "response.function_call_arguments.done"
)

// Client event types.
const (
	EventSessionUpdate            EventType = "session.update"
	EventConversationItemCreate   EventType = "conversation.item.create"
	EventConversationItemTruncate EventType = "conversation.item.truncate"
	EventInputAudioBufferAppend   EventType = "input_audio_buffer.append"
	EventResponseCreate           EventType = "response.create"
)

// Item types
const (
	ItemTypeMessage      = "message"
	ItemTypeFunctionCall = "function_call"
)

var (
	// ErrUnknownEvent is returned for events whose type is not recognized.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrInvalidEvent is returned when a known event does not match its schema.
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is implemented by every server and client event.
type Event interface {
	EventType() EventType
}

// ContentPart is a piece of item content.
type ContentPart struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type,omitempty"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// Response is a model response as reported by response.created and
// response.done.
type Response struct {
	ID     string `json:"id,omitempty"`
	Object string `json:"object,omitempty"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output,omitempty"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e ErrorDetail) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorEvent reports an API side error.
type ErrorEvent struct {
	Type    EventType   `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

// SessionEvent is session.created or session.updated.
type SessionEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
	Session Session   `json:"session"`
}

// InputAudioBufferCommitted means the caller's audio was committed as a new
// user item.
type InputAudioBufferCommitted struct {
	Type           EventType `json:"type"`
	EventID        string    `json:"event_id,omitempty"`
	PreviousItemID string    `json:"previous_item_id,omitempty"`
	ItemID         string    `json:"item_id"`
}

// InputAudioBufferSpeechStarted means voice activity was detected on the
// caller's audio.
type InputAudioBufferSpeechStarted struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	AudioStartMs int64     `json:"audio_start_ms"`
	ItemID       string    `json:"item_id"`
}

// InputAudioTranscriptionCompleted carries the transcript of a user item.
type InputAudioTranscriptionCompleted struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ItemID       string    `json:"item_id"`
	ContentIndex int       `json:"content_index"`
	Transcript   string    `json:"transcript"`
}

// ResponseContentPart is response.content_part.added or
// response.content_part.done.
type ResponseContentPart struct {
	Type         EventType   `json:"type"`
	EventID      string      `json:"event_id,omitempty"`
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

// ResponseAudioDelta carries a chunk of response audio.
type ResponseAudioDelta struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ResponseID   string    `json:"response_id"`
	ItemID       string    `json:"item_id"`
	OutputIndex  int       `json:"output_index"`
	ContentIndex int       `json:"content_index"`
	Delta        string    `json:"delta"`
}

// ResponseAudioDone marks the end of a response's audio.
type ResponseAudioDone struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ResponseID   string    `json:"response_id"`
	ItemID       string    `json:"item_id"`
	OutputIndex  int       `json:"output_index"`
	ContentIndex int       `json:"content_index"`
}

// ResponseTextDelta carries a chunk of response text.
type ResponseTextDelta struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ResponseID   string    `json:"response_id"`
	ItemID       string    `json:"item_id"`
	OutputIndex  int       `json:"output_index"`
	ContentIndex int       `json:"content_index"`
	Delta        string    `json:"delta"`
}

// ResponseTextDone carries the full text of a response part.
type ResponseTextDone struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ResponseID   string    `json:"response_id"`
	ItemID       string    `json:"item_id"`
	OutputIndex  int       `json:"output_index"`
	ContentIndex int       `json:"content_index"`
	Text         string    `json:"text"`
}

// ResponseDone is sent when a response is complete.
type ResponseDone struct {
	Type     EventType `json:"type"`
	EventID  string    `json:"event_id,omitempty"`
	Response Response  `json:"response"`
}

// OtherEvent is a recognized server event the bridge has no use for.
type OtherEvent struct {
	Type EventType `json:"type"`
}

func (e ErrorEvent) EventType() EventType                       { return e.Type }
func (e SessionEvent) EventType() EventType                     { return e.Type }
func (e InputAudioBufferCommitted) EventType() EventType        { return e.Type }
func (e InputAudioBufferSpeechStarted) EventType() EventType    { return e.Type }
func (e InputAudioTranscriptionCompleted) EventType() EventType { return e.Type }
func (e ResponseContentPart) EventType() EventType              { return e.Type }
func (e ResponseAudioDelta) EventType() EventType               { return e.Type }
func (e ResponseAudioDone) EventType() EventType                { return e.Type }
func (e ResponseTextDelta) EventType() EventType                { return e.Type }
func (e ResponseTextDone) EventType() EventType                 { return e.Type }
func (e ResponseDone) EventType() EventType                     { return e.Type }
func (e OtherEvent) EventType() EventType                       { return e.Type }

// SessionUpdate configures the session.
type SessionUpdate struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
	Session Session   `json:"session"`
}

// ConversationItemCreate adds an item to the conversation.
type ConversationItemCreate struct {
	Type           EventType `json:"type"`
	EventID        string    `json:"event_id,omitempty"`
	PreviousItemID string    `json:"previous_item_id,omitempty"`
	Item           Item      `json:"item"`
}

// ConversationItemTruncate cuts an assistant audio item at the point the
// caller actually heard.
type ConversationItemTruncate struct {
	Type         EventType `json:"type"`
	EventID      string    `json:"event_id,omitempty"`
	ItemID       string    `json:"item_id"`
	ContentIndex int       `json:"content_index"`
	AudioEndMs   int64     `json:"audio_end_ms"`
}

// InputAudioBufferAppend forwards caller audio.
type InputAudioBufferAppend struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
	Audio   string    `json:"audio"`
}

// ResponseCreate asks the model to generate a response.
type ResponseCreate struct {
	Type     EventType       `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response *ResponseParams `json:"response,omitempty"`
}

func (e SessionUpdate) EventType() EventType            { return e.Type }
func (e ConversationItemCreate) EventType() EventType   { return e.Type }
func (e ConversationItemTruncate) EventType() EventType { return e.Type }
func (e InputAudioBufferAppend) EventType() EventType   { return e.Type }
func (e ResponseCreate) EventType() EventType           { return e.Type }

// NewSessionUpdate creates a session.update event.
func NewSessionUpdate(session Session) *SessionUpdate {
	return &SessionUpdate{Type: EventSessionUpdate, Session: session}
}

// NewUserPrompt creates a conversation.item.create event holding a user
// text message.
func NewUserPrompt(text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Type: EventConversationItemCreate,
		Item: Item{
			Type:    ItemTypeMessage,
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewTruncate creates a conversation.item.truncate event for the first
// content part of an item.
func NewTruncate(itemID string, audioEndMs int64) *ConversationItemTruncate {
	return &ConversationItemTruncate{
		Type:         EventConversationItemTruncate,
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	}
}

// NewAudioAppend creates an input_audio_buffer.append event.
func NewAudioAppend(audio string) *InputAudioBufferAppend {
	return &InputAudioBufferAppend{Type: EventInputAudioBufferAppend, Audio: audio}
}

// NewResponseCreate creates a response.create event.
func NewResponseCreate() *ResponseCreate {
	return &ResponseCreate{Type: EventResponseCreate}
}

type envelope struct {
	Type EventType `json:"type"`
}

var ignoredServerEvents = map[EventType]bool{
	EventInputAudioTranscriptionDelta:       true,
	EventInputAudioTranscriptionFailed:      true,
	EventConversationItemCreated:            true,
	EventConversationItemTruncated:          true,
	EventInputAudioBufferSpeechStopped:      true,
	EventRateLimitsUpdated:                  true,
	EventResponseCreated:                    true,
	EventResponseOutputItemAdded:            true,
	EventResponseOutputItemDone:             true,
	EventResponseAudioTranscriptDelta:       true,
	EventResponseAudioTranscriptDone:        true,
	EventResponseFunctionCallArgumentsDelta: true,
	EventResponseFunctionCallArgumentsDone:  true,
}

// ParseServerEvent decodes an event received from the API.
func ParseServerEvent(data []byte) (Event, error) {
	var base envelope
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch base.Type {
	case EventError:
		return decode[ErrorEvent](data)
	case EventSessionCreated, EventSessionUpdated:
		return decode[SessionEvent](data)
	case EventInputAudioBufferCommitted:
		return decode[InputAudioBufferCommitted](data)
	case EventInputAudioBufferSpeechStarted:
		return decode[InputAudioBufferSpeechStarted](data)
	case EventInputAudioTranscriptionCompleted:
		return decode[InputAudioTranscriptionCompleted](data)
	case EventResponseContentPartAdded, EventResponseContentPartDone:
		return decode[ResponseContentPart](data)
	case EventResponseAudioDelta:
		return decode[ResponseAudioDelta](data)
	case EventResponseAudioDone:
		return decode[ResponseAudioDone](data)
	case EventResponseTextDelta:
		return decode[ResponseTextDelta](data)
	case EventResponseTextDone:
		return decode[ResponseTextDone](data)
	case EventResponseDone:
		return decode[ResponseDone](data)
	}
	if ignoredServerEvents[base.Type] {
		return &OtherEvent{Type: base.Type}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Type)
}

// ParseClientEvent decodes an event sent to the API.
func ParseClientEvent(data []byte) (Event, error) {
	var base envelope
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch base.Type {
	case EventSessionUpdate:
		return decode[SessionUpdate](data)
	case EventConversationItemCreate:
		return decode[ConversationItemCreate](data)
	case EventConversationItemTruncate:
		return decode[ConversationItemTruncate](data)
	case EventInputAudioBufferAppend:
		return decode[InputAudioBufferAppend](data)
	case EventResponseCreate:
		return decode[ResponseCreate](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Type)
}

// Marshal encodes an event.
func Marshal(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func decode[T any, P interface {
	*T
	Event
}](data []byte) (Event, error) {
	event := P(new(T))
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return event, nil
}
