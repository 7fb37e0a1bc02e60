package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/daniil-berg/callbot/domain/entities"
	"github.com/daniil-berg/callbot/domain/repositories"
)

type ContactRepository struct {
	collection *mongo.Collection
}

// NewContactRepository creates a new MongoDB contact repository
func NewContactRepository(db *mongo.Database) *ContactRepository {
	return &ContactRepository{
		collection: db.Collection(contactsCollection),
	}
}

func ensureContactIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	})
	return err
}

// Create implements repositories.ContactRepository
func (r *ContactRepository) Create(ctx context.Context, contact *entities.Contact) error {
	if contact == nil {
		return errors.New("contact cannot be nil")
	}
	if contact.ID.IsZero() {
		contact.ID = primitive.NewObjectID()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctx, contact); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicateContact, contact.Phone)
		}
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// FindByPhone implements repositories.ContactRepository
func (r *ContactRepository) FindByPhone(ctx context.Context, phone string) (*entities.Contact, error) {
	var contact entities.Contact
	err := r.collection.FindOne(ctx, bson.M{"phone": phone}).Decode(&contact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to find contact %s: %w", phone, err)
	}
	return &contact, nil
}

// List implements repositories.ContactRepository
func (r *ContactRepository) List(ctx context.Context, limit int) ([]*entities.Contact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer cursor.Close(ctx)

	var contacts []*entities.Contact
	if err := cursor.All(ctx, &contacts); err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}
	return contacts, nil
}
