package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
)

type CallRecordRepository struct {
	collection *mongo.Collection
}

// NewCallRecordRepository creates a new MongoDB call record repository
func NewCallRecordRepository(db *mongo.Database) *CallRecordRepository {
	return &CallRecordRepository{
		collection: db.Collection(callRecordsCollection),
	}
}

func ensureCallRecordIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "call_sid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Save upserts the record of a call.
func (r *CallRecordRepository) Save(ctx context.Context, record *entities.CallRecord) error {
	if record == nil {
		return errors.New("call record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}

	update := bson.M{
		"$set": bson.M{
			"stream_sid": record.StreamSid,
			"backend":    record.Backend,
			"contact":    record.Contact,
			"severity":   record.Severity,
			"outcome":    record.Outcome,
			"transcript": record.Transcript,
			"started_at": record.StartedAt,
			"ended_at":   record.EndedAt,
		},
		"$setOnInsert": bson.M{"_id": record.ID},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"call_sid": record.CallSid}, update, opts); err != nil {
		return fmt.Errorf("failed to save call record %s: %w", record.CallSid, err)
	}
	return nil
}

// GetByCallSid implements repositories.CallRecordRepository
func (r *CallRecordRepository) GetByCallSid(ctx context.Context, callSid string) (*entities.CallRecord, error) {
	var record entities.CallRecord
	err := r.collection.FindOne(ctx, bson.M{"call_sid": callSid}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrCallRecordNotFound
		}
		return nil, fmt.Errorf("failed to get call record %s: %w", callSid, err)
	}
	return &record, nil
}

// SetSummary implements repositories.CallRecordRepository
func (r *CallRecordRepository) SetSummary(ctx context.Context, callSid, summary string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"call_sid": callSid},
		bson.M{"$set": bson.M{"summary": summary}},
	)
	if err != nil {
		return fmt.Errorf("failed to set summary of %s: %w", callSid, err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrCallRecordNotFound
	}
	return nil
}
