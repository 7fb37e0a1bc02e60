package elevenlabs

import (
	"errors"
	"reflect"
	"testing"
)

func TestSentRoundTrip(t *testing.T) {
	stability := 0.5
	messages := []Message{
		&InitializeContext{Text: "Hello ", ContextID: "item_1", VoiceSettings: &VoiceSettings{Stability: &stability}},
		&SendText{Text: "world.", ContextID: "item_1"},
		NewFlushContext("item_1"),
		NewCloseContext("item_1"),
		NewCloseSocket(),
	}

	for _, msg := range messages {
		data, err := Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal(%T) error: %v", msg, err)
		}
		got, err := ParseSent(data)
		if err != nil {
			t.Fatalf("ParseSent(%s) error: %v", data, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Errorf("round trip = %#v, want %#v", got, msg)
		}
	}
}

func TestParseReceived(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Received
		wantErr bool
	}{
		{
			name:    "audio",
			message: `{"audio":"AAAA","contextId":"item_1","normalizedAlignment":null}`,
			want:    &AudioOutput{Audio: "AAAA", ContextID: "item_1"},
		},
		{
			name:    "final",
			message: `{"isFinal":true,"contextId":"item_1"}`,
			want:    &FinalOutput{IsFinal: true, ContextID: "item_1"},
		},
		{
			name:    "not final",
			message: `{"isFinal":false}`,
			wantErr: true,
		},
		{
			name:    "unknown",
			message: `{"message":"hello"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReceived([]byte(tt.message))
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownMessage) {
					t.Fatalf("ParseReceived() error = %v, want ErrUnknownMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReceived() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseReceived() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
