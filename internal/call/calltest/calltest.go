// Package calltest provides in-memory peers for testing backends against a
// call manager.
package calltest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/daniil-berg/callbot/internal/protocol/twilio"
	"github.com/daniil-berg/callbot/internal/websocket"
)

// Journal records the messages written to several peers in order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) Add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Conn is a websocket peer. Messages pushed with Push are read in order;
// after Close, reads fail with websocket.ErrClosed once the queue is
// drained.
type Conn struct {
	name    string
	journal *Journal
	label   func([]byte) string

	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out [][]byte
}

// NewConn creates a peer called name. label names written messages in the
// journal.
func NewConn(name string, journal *Journal, label func([]byte) string) *Conn {
	return &Conn{
		name:    name,
		journal: journal,
		label:   label,
		in:      make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, websocket.ErrClosed
	}
}

func (c *Conn) WriteMessage(_ context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrClosed
	default:
	}
	c.mu.Lock()
	c.out = append(c.out, append([]byte(nil), payload...))
	c.mu.Unlock()
	if c.journal != nil {
		c.journal.Add(c.name + ":" + c.label(payload))
	}
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) CloseWithCode(int, string) error {
	return c.Close()
}

// Push queues an incoming message, marshalling it unless it is raw JSON.
func (c *Conn) Push(tb testing.TB, v any) {
	tb.Helper()
	switch v := v.(type) {
	case string:
		c.in <- []byte(v)
	case []byte:
		c.in <- v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			tb.Fatal(err)
		}
		c.in <- data
	}
}

// Written returns the messages written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

// TypeLabel labels JSON messages by their "type" field.
func TypeLabel(payload []byte) string {
	var v struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &v); err != nil || v.Type == "" {
		return "?"
	}
	return v.Type
}

// TwilioLabel labels outbound Twilio messages by event, and marks by name.
func TwilioLabel(payload []byte) string {
	msg, err := twilio.ParseOutbound(payload)
	if err != nil {
		return "?"
	}
	if mark, ok := msg.(*twilio.OutboundMark); ok {
		return "mark:" + mark.Mark.Name
	}
	return string(msg.EventName())
}

// Twilio creates a fake Twilio media stream peer.
func Twilio(journal *Journal) *Conn {
	return NewConn("twilio", journal, TwilioLabel)
}
