package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	contactsCollection    = "contacts"
	callRecordsCollection = "call_records"
	usedTokensCollection  = "used_tokens"
)

// Client wraps the MongoDB client and database
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient creates a new MongoDB client connection
func NewClient(ctx context.Context, uri, dbName string, logger *zap.Logger) (*Client, error) {
	if uri == "" {
		return nil, errors.New("MongoDB URI is required")
	}
	if dbName == "" {
		dbName = "callbot"
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Successfully connected to MongoDB", zap.String("database", dbName))

	return &Client{
		Client:   client,
		Database: client.Database(dbName),
		logger:   logger,
	}, nil
}

// EnsureIndexes creates the indexes the repositories rely on for uniqueness
// and expiry.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if err := ensureContactIndexes(ctx, c.Database.Collection(contactsCollection)); err != nil {
		return fmt.Errorf("contacts indexes: %w", err)
	}
	if err := ensureCallRecordIndexes(ctx, c.Database.Collection(callRecordsCollection)); err != nil {
		return fmt.Errorf("call record indexes: %w", err)
	}
	if err := ensureUsedTokenIndexes(ctx, c.Database.Collection(usedTokensCollection)); err != nil {
		return fmt.Errorf("used token indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
