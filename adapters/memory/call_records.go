package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
)

// CallRecordRepository implements repositories.CallRecordRepository using
// in-memory storage
type CallRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*entities.CallRecord
}

// NewCallRecordRepository creates a new in-memory call record repository
func NewCallRecordRepository() *CallRecordRepository {
	return &CallRecordRepository{
		records: make(map[string]*entities.CallRecord),
	}
}

// Save stores the record, replacing an earlier record of the same call.
func (m *CallRecordRepository) Save(ctx context.Context, record *entities.CallRecord) error {
	if record == nil {
		return errors.New("call record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[record.CallSid]; ok {
		record.ID = existing.ID
	} else if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	recordCopy := *record
	m.records[record.CallSid] = &recordCopy
	return nil
}

// GetByCallSid implements CallRecordRepository interface
func (m *CallRecordRepository) GetByCallSid(ctx context.Context, callSid string) (*entities.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[callSid]
	if !ok {
		return nil, repositories.ErrCallRecordNotFound
	}
	recordCopy := *record
	return &recordCopy, nil
}

// SetSummary implements CallRecordRepository interface
func (m *CallRecordRepository) SetSummary(ctx context.Context, callSid, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[callSid]
	if !ok {
		return repositories.ErrCallRecordNotFound
	}
	record.Summary = summary
	return nil
}

// Recent returns up to limit records, latest end first.
func (m *CallRecordRepository) Recent(limit int) []*entities.CallRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entities.CallRecord, 0, len(m.records))
	for _, record := range m.records {
		recordCopy := *record
		result = append(result, &recordCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EndedAt.After(result[j].EndedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
