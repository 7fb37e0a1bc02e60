// Package twilio implements the Twilio Media Streams websocket messages.
//
// Inbound messages are sent by Twilio to the bridge, outbound messages are
// sent by the bridge back to Twilio. Both directions use an "event" field as
// discriminator.
package twilio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event names the discriminator of a media stream message.
type Event string

// Supported events
const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventMark      Event = "mark"
	EventStop      Event = "stop"
	EventDTMF      Event = "dtmf"
	EventClear     Event = "clear"
)

var (
	// ErrUnknownEvent is returned for messages whose event is not recognized.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidMessage is returned when a known event does not match its schema.
	ErrInvalidMessage = errors.New("invalid message")
)

// Number is an integer that Twilio may encode either as a JSON number or as
// a numeric string. It is always written back as a string.
type Number int64

func (n *Number) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		*n = Number(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(n), 10))
}

// Message is implemented by every media stream message.
type Message interface {
	EventName() Event
}

// Connected is the first message Twilio sends after opening the socket.
type Connected struct {
	Event    Event  `json:"event"`
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

// MediaFormat describes the inbound audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo is the payload of a start message.
type StartInfo struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// Start carries the stream metadata and the custom stream parameters.
type Start struct {
	Event          Event     `json:"event"`
	SequenceNumber Number    `json:"sequenceNumber"`
	Start          StartInfo `json:"start"`
	StreamSid      string    `json:"streamSid"`
}

// InboundMedia is a chunk of caller audio.
type InboundMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     Number `json:"chunk"`
	Timestamp Number `json:"timestamp"`
	Payload   string `json:"payload"`
}

// Media is an inbound media message.
type Media struct {
	Event          Event        `json:"event"`
	SequenceNumber Number       `json:"sequenceNumber"`
	Media          InboundMedia `json:"media"`
	StreamSid      string       `json:"streamSid"`
}

// MarkInfo names a mark.
type MarkInfo struct {
	Name string `json:"name"`
}

// Mark is sent by Twilio once the audio preceding a mark we sent was played.
type Mark struct {
	Event          Event    `json:"event"`
	SequenceNumber Number   `json:"sequenceNumber"`
	StreamSid      string   `json:"streamSid"`
	Mark           MarkInfo `json:"mark"`
}

// StopInfo identifies the call that ended.
type StopInfo struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// Stop is sent when the stream ends, usually because the call was hung up.
type Stop struct {
	Event          Event    `json:"event"`
	SequenceNumber Number   `json:"sequenceNumber"`
	StreamSid      string   `json:"streamSid"`
	Stop           StopInfo `json:"stop"`
}

// DTMFInfo holds a pressed key.
type DTMFInfo struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// DTMF is sent when the caller presses a key.
type DTMF struct {
	Event          Event    `json:"event"`
	SequenceNumber Number   `json:"sequenceNumber"`
	StreamSid      string   `json:"streamSid"`
	DTMF           DTMFInfo `json:"dtmf"`
}

func (Connected) EventName() Event { return EventConnected }
func (Start) EventName() Event     { return EventStart }
func (Media) EventName() Event     { return EventMedia }
func (Mark) EventName() Event      { return EventMark }
func (Stop) EventName() Event      { return EventStop }
func (DTMF) EventName() Event      { return EventDTMF }

// OutboundMediaPayload is the audio we send to Twilio.
type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

// OutboundMedia plays base64 encoded audio to the caller.
type OutboundMedia struct {
	Event     Event                `json:"event"`
	StreamSid string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

// OutboundMark asks Twilio to echo a mark once the preceding audio was played.
type OutboundMark struct {
	Event     Event    `json:"event"`
	StreamSid string   `json:"streamSid"`
	Mark      MarkInfo `json:"mark"`
}

// Clear discards all audio buffered by Twilio.
type Clear struct {
	Event     Event  `json:"event"`
	StreamSid string `json:"streamSid"`
}

func (OutboundMedia) EventName() Event { return EventMedia }
func (OutboundMark) EventName() Event  { return EventMark }
func (Clear) EventName() Event         { return EventClear }

// NewMedia creates an outbound media message.
func NewMedia(streamSid, payload string) *OutboundMedia {
	return &OutboundMedia{Event: EventMedia, StreamSid: streamSid, Media: OutboundMediaPayload{Payload: payload}}
}

// NewMark creates an outbound mark message.
func NewMark(streamSid, name string) *OutboundMark {
	return &OutboundMark{Event: EventMark, StreamSid: streamSid, Mark: MarkInfo{Name: name}}
}

// NewClear creates a clear message.
func NewClear(streamSid string) *Clear {
	return &Clear{Event: EventClear, StreamSid: streamSid}
}

type envelope struct {
	Event Event `json:"event"`
}

// ParseInbound decodes a message sent by Twilio.
func ParseInbound(data []byte) (Message, error) {
	var base envelope
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch base.Event {
	case EventConnected:
		return decode[Connected](data, nil)
	case EventStart:
		return decode(data, func(m *Start) error {
			if m.Start.StreamSid == "" || m.Start.CallSid == "" {
				return errors.New("start.streamSid and start.callSid are required")
			}
			return nil
		})
	case EventMedia:
		return decode(data, func(m *Media) error {
			if m.Media.Payload == "" {
				return errors.New("media.payload is required")
			}
			return nil
		})
	case EventMark:
		return decode[Mark](data, nil)
	case EventStop:
		return decode[Stop](data, nil)
	case EventDTMF:
		return decode[DTMF](data, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Event)
	}
}

// ParseOutbound decodes a message sent to Twilio. It is used by clients
// playing the Twilio role.
func ParseOutbound(data []byte) (Message, error) {
	var base envelope
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch base.Event {
	case EventMedia:
		return decode[OutboundMedia](data, nil)
	case EventMark:
		return decode[OutboundMark](data, nil)
	case EventClear:
		return decode[Clear](data, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Event)
	}
}

// Marshal encodes a message.
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode[T any, P interface {
	*T
	Message
}](data []byte, validate func(P) error) (Message, error) {
	msg := P(new(T))
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if validate != nil {
		if err := validate(msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	}
	return msg, nil
}
