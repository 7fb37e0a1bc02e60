// Package elevenlabs implements the messages of the ElevenLabs multi-context
// text-to-speech websocket.
package elevenlabs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned for received messages of unknown shape.
var ErrUnknownMessage = errors.New("unknown message")

// VoiceSettings tune the synthesized voice.
type VoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

// GenerationConfig controls when audio generation is triggered.
type GenerationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule,omitempty"`
}

// Message is implemented by every message sent to ElevenLabs.
type Message interface {
	elevenlabsMessage()
}

// InitializeContext opens a context with its first text.
type InitializeContext struct {
	Text             string            `json:"text"`
	ContextID        string            `json:"context_id,omitempty"`
	VoiceSettings    *VoiceSettings    `json:"voice_settings,omitempty"`
	GenerationConfig *GenerationConfig `json:"generation_config,omitempty"`
}

// SendText appends text to an open context.
type SendText struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id,omitempty"`
	Flush     bool   `json:"flush,omitempty"`
}

// FlushContext forces generation of any buffered text in a context.
type FlushContext struct {
	ContextID string `json:"context_id"`
	Flush     bool   `json:"flush"`
}

// CloseContext stops generation for a context.
type CloseContext struct {
	ContextID    string `json:"context_id"`
	CloseContext bool   `json:"close_context"`
}

// CloseSocket closes all contexts and the connection.
type CloseSocket struct {
	CloseSocket bool `json:"close_socket"`
}

func (InitializeContext) elevenlabsMessage() {}
func (SendText) elevenlabsMessage()          {}
func (FlushContext) elevenlabsMessage()      {}
func (CloseContext) elevenlabsMessage()      {}
func (CloseSocket) elevenlabsMessage()       {}

// NewFlushContext creates a flush message.
func NewFlushContext(contextID string) *FlushContext {
	return &FlushContext{ContextID: contextID, Flush: true}
}

// NewCloseContext creates a close context message.
func NewCloseContext(contextID string) *CloseContext {
	return &CloseContext{ContextID: contextID, CloseContext: true}
}

// NewCloseSocket creates a close socket message.
func NewCloseSocket() *CloseSocket {
	return &CloseSocket{CloseSocket: true}
}

// Marshal encodes a message sent to ElevenLabs.
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// ParseSent decodes a message sent to ElevenLabs. Messages are told apart by
// the fields they set.
func ParseSent(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	var msg Message
	switch {
	case has(fields, "close_socket"):
		msg = new(CloseSocket)
	case has(fields, "close_context"):
		msg = new(CloseContext)
	case has(fields, "voice_settings"), has(fields, "generation_config"):
		msg = new(InitializeContext)
	case has(fields, "text"):
		msg = new(SendText)
	case has(fields, "flush"):
		msg = new(FlushContext)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, data)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	return msg, nil
}

// Alignment maps characters to audio positions.
type Alignment struct {
	CharStartTimesMs []int    `json:"charStartTimesMs,omitempty"`
	CharsDurationsMs []int    `json:"charsDurationsMs,omitempty"`
	Chars            []string `json:"chars,omitempty"`
}

// AudioOutput is a chunk of synthesized audio for a context.
type AudioOutput struct {
	Audio               string     `json:"audio"`
	ContextID           string     `json:"contextId,omitempty"`
	NormalizedAlignment *Alignment `json:"normalizedAlignment,omitempty"`
	Alignment           *Alignment `json:"alignment,omitempty"`
}

// FinalOutput is received once a context has produced all its audio.
type FinalOutput struct {
	IsFinal   bool   `json:"isFinal"`
	ContextID string `json:"contextId,omitempty"`
}

// Received is implemented by messages received from ElevenLabs.
type Received interface {
	receivedMessage()
}

func (AudioOutput) receivedMessage() {}
func (FinalOutput) receivedMessage() {}

// ParseReceived decodes a message received from ElevenLabs.
func ParseReceived(data []byte) (Received, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch {
	case has(fields, "audio"):
		var msg AudioOutput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		return &msg, nil
	case has(fields, "isFinal"):
		var msg FinalOutput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		if !msg.IsFinal {
			return nil, fmt.Errorf("%w: isFinal is false", ErrUnknownMessage)
		}
		return &msg, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, data)
}

func has(fields map[string]json.RawMessage, key string) bool {
	v, ok := fields[key]
	return ok && string(v) != "null"
}
