package twilio

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Message
		wantErr error
	}{
		{
			name:    "connected",
			message: `{"event":"connected","protocol":"Call","version":"1.0.0"}`,
			want:    &Connected{Event: EventConnected, Protocol: "Call", Version: "1.0.0"},
		},
		{
			name: "start with custom parameters",
			message: `{
				"event": "start",
				"sequenceNumber": "1",
				"start": {
					"accountSid": "AC123",
					"streamSid": "MZ123",
					"callSid": "CA123",
					"tracks": ["inbound"],
					"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
					"customParameters": {"token": "abc", "firstname": "Ada"}
				},
				"streamSid": "MZ123"
			}`,
			want: &Start{
				Event:          EventStart,
				SequenceNumber: 1,
				StreamSid:      "MZ123",
				Start: StartInfo{
					AccountSid:       "AC123",
					StreamSid:        "MZ123",
					CallSid:          "CA123",
					Tracks:           []string{"inbound"},
					CustomParameters: map[string]string{"token": "abc", "firstname": "Ada"},
					MediaFormat:      MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
				},
			},
		},
		{
			name:    "media with string numbers",
			message: `{"event":"media","sequenceNumber":"3","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"AAAA"},"streamSid":"MZ123"}`,
			want: &Media{
				Event:          EventMedia,
				SequenceNumber: 3,
				StreamSid:      "MZ123",
				Media:          InboundMedia{Track: "inbound", Chunk: 1, Timestamp: 5, Payload: "AAAA"},
			},
		},
		{
			name:    "media with plain numbers",
			message: `{"event":"media","media":{"timestamp":1200,"payload":"AAAA"},"streamSid":"MZ123"}`,
			want: &Media{
				Event:     EventMedia,
				StreamSid: "MZ123",
				Media:     InboundMedia{Timestamp: 1200, Payload: "AAAA"},
			},
		},
		{
			name:    "mark",
			message: `{"event":"mark","sequenceNumber":"4","streamSid":"MZ123","mark":{"name":"done"}}`,
			want:    &Mark{Event: EventMark, SequenceNumber: 4, StreamSid: "MZ123", Mark: MarkInfo{Name: "done"}},
		},
		{
			name:    "stop",
			message: `{"event":"stop","sequenceNumber":"5","streamSid":"MZ123","stop":{"accountSid":"AC123","callSid":"CA123"}}`,
			want:    &Stop{Event: EventStop, SequenceNumber: 5, StreamSid: "MZ123", Stop: StopInfo{AccountSid: "AC123", CallSid: "CA123"}},
		},
		{
			name:    "unknown event",
			message: `{"event":"something"}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "start without call sid",
			message: `{"event":"start","start":{"streamSid":"MZ123"}}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "media without payload",
			message: `{"event":"media","media":{"timestamp":"5"}}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "bad timestamp",
			message: `{"event":"media","media":{"timestamp":"five","payload":"AAAA"}}`,
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "not json",
			message: `hello`,
			wantErr: ErrInvalidMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.message))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseInbound() error = %v, want %v", err, tt.wantErr)
				}
				if got != nil {
					t.Errorf("ParseInbound() = %#v, want nil", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInbound() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseInbound() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	messages := []Message{
		NewMedia("MZ123", "//79/Q=="),
		NewMark("MZ123", "responsePart"),
		NewMark("MZ123", "done"),
		NewClear("MZ123"),
	}

	for _, msg := range messages {
		t.Run(string(msg.EventName()), func(t *testing.T) {
			data, err := Marshal(msg)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			got, err := ParseOutbound(data)
			if err != nil {
				t.Fatalf("ParseOutbound(%s) error: %v", data, err)
			}
			if !reflect.DeepEqual(got, msg) {
				t.Errorf("round trip = %#v, want %#v", got, msg)
			}
		})
	}
}

func TestMarshalClear(t *testing.T) {
	data, err := Marshal(NewClear("MZ1"))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"event":"clear","streamSid":"MZ1"}`; string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}
