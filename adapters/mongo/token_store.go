package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// usedToken is the document stored per redeemed token. The jti is the
// primary key, so a second insert fails atomically.
type usedToken struct {
	ID        string    `bson:"_id"`
	UsedAt    time.Time `bson:"used_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// TokenStore implements auth.UsedTokenStore on a MongoDB collection.
type TokenStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewTokenStore creates a used token store in db.
func NewTokenStore(db *mongo.Database) *TokenStore {
	return &TokenStore{
		collection: db.Collection(usedTokensCollection),
		now:        time.Now,
	}
}

// MongoDB removes expired documents by itself; Purge only covers the gap
// until its TTL monitor runs.
func ensureUsedTokenIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

// MarkUsed implements auth.UsedTokenStore
func (s *TokenStore) MarkUsed(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	_, err := s.collection.InsertOne(ctx, usedToken{
		ID:        id,
		UsedAt:    s.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark token %s used: %w", id, err)
	}
	return true, nil
}

// Purge implements auth.UsedTokenStore
func (s *TokenStore) Purge(ctx context.Context, now time.Time) (int, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge used tokens: %w", err)
	}
	return int(result.DeletedCount), nil
}
