package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
)

// ContactRepository implements repositories.ContactRepository using
// in-memory storage
type ContactRepository struct {
	mu       sync.RWMutex
	contacts map[primitive.ObjectID]*entities.Contact
	phones   map[string]primitive.ObjectID
	emails   map[string]primitive.ObjectID
}

// NewContactRepository creates a new in-memory contact repository
func NewContactRepository() *ContactRepository {
	return &ContactRepository{
		contacts: make(map[primitive.ObjectID]*entities.Contact),
		phones:   make(map[string]primitive.ObjectID),
		emails:   make(map[string]primitive.ObjectID),
	}
}

// Create implements ContactRepository interface
func (m *ContactRepository) Create(ctx context.Context, contact *entities.Contact) error {
	if contact == nil {
		return errors.New("contact cannot be nil")
	}
	if contact.Phone == "" {
		return errors.New("contact phone cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.phones[contact.Phone]; exists {
		return fmt.Errorf("%w: phone %s", repositories.ErrDuplicateContact, contact.Phone)
	}
	email := strings.ToLower(contact.Email)
	if email != "" {
		if _, exists := m.emails[email]; exists {
			return fmt.Errorf("%w: email %s", repositories.ErrDuplicateContact, contact.Email)
		}
	}

	if contact.ID.IsZero() {
		contact.ID = primitive.NewObjectID()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	contactCopy := *contact
	m.contacts[contact.ID] = &contactCopy
	m.phones[contact.Phone] = contact.ID
	if email != "" {
		m.emails[email] = contact.ID
	}
	return nil
}

// FindByPhone implements ContactRepository interface
func (m *ContactRepository) FindByPhone(ctx context.Context, phone string) (*entities.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.phones[phone]
	if !exists {
		return nil, repositories.ErrContactNotFound
	}
	contactCopy := *m.contacts[id]
	return &contactCopy, nil
}

// List returns up to limit contacts, newest first. A limit of zero or less
// returns all contacts.
func (m *ContactRepository) List(ctx context.Context, limit int) ([]*entities.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entities.Contact, 0, len(m.contacts))
	for _, contact := range m.contacts {
		contactCopy := *contact
		result = append(result, &contactCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.Hex() > result[j].ID.Hex()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored contacts
func (m *ContactRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts)
}
