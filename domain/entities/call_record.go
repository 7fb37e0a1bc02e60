package entities

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallRecord is the persisted result of one bridged call.
type CallRecord struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CallSid    string             `json:"call_sid" bson:"call_sid"`
	StreamSid  string             `json:"stream_sid" bson:"stream_sid"`
	Backend    string             `json:"backend" bson:"backend"`
	Contact    *Contact           `json:"contact,omitempty" bson:"contact,omitempty"`
	Severity   string             `json:"severity" bson:"severity"`
	Outcome    string             `json:"outcome" bson:"outcome"`
	Transcript string             `json:"transcript" bson:"transcript"`
	Summary    string             `json:"summary,omitempty" bson:"summary,omitempty"`
	StartedAt  time.Time          `json:"started_at" bson:"started_at"`
	EndedAt    time.Time          `json:"ended_at" bson:"ended_at"`
}

// NewCallRecord creates a record for a call that started at startedAt and
// ends now.
func NewCallRecord(callSid string, startedAt time.Time) *CallRecord {
	return &CallRecord{
		ID:        primitive.NewObjectID(),
		CallSid:   callSid,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
}

// Duration is the time between start and end of the call.
func (r *CallRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Validate validates the record data
func (r *CallRecord) Validate() error {
	if r.CallSid == "" {
		return errors.New("call_sid is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}
