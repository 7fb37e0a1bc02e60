package repositories

import (
	"context"
	"errors"

	"github.com/daniil-berg/callbot/domain/entities"
)

var (
	// ErrContactNotFound is returned when no contact has the given phone number.
	ErrContactNotFound = errors.New("contact not found")
	// ErrDuplicateContact is returned when a contact with the same phone
	// number or email already exists.
	ErrDuplicateContact = errors.New("contact already exists")
	// ErrCallRecordNotFound is returned when no record exists for a call.
	ErrCallRecordNotFound = errors.New("call record not found")
)

// ContactRepository defines data access methods for contacts
type ContactRepository interface {
	Create(ctx context.Context, contact *entities.Contact) error
	FindByPhone(ctx context.Context, phone string) (*entities.Contact, error)
	List(ctx context.Context, limit int) ([]*entities.Contact, error)
}

// CallRecordRepository defines data access methods for call records
type CallRecordRepository interface {
	Save(ctx context.Context, record *entities.CallRecord) error
	GetByCallSid(ctx context.Context, callSid string) (*entities.CallRecord, error)
	SetSummary(ctx context.Context, callSid, summary string) error
}
