package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/adapters/memory"
	"github.com/daniil-berg/callbot/adapters/mongo"
	"github.com/daniil-berg/callbot/domain/repositories"
	"github.com/daniil-berg/callbot/internal/auth"
	"github.com/daniil-berg/callbot/internal/config"
)

var errNoDatabase = errors.New("MONGODB_URI is required for this command")

// stores are the persistence adapters of the process: MongoDB when
// configured, memory otherwise.
type stores struct {
	mongo       *mongo.Client
	contacts    repositories.ContactRepository
	callRecords repositories.CallRecordRepository
	usedTokens  auth.UsedTokenStore
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Mongo.URI == "" {
		logger.Warn("MONGODB_URI not set, using in-memory storage")
		return &stores{
			contacts:    memory.NewContactRepository(),
			callRecords: memory.NewCallRecordRepository(),
			usedTokens:  auth.NewMemoryTokenStore(),
		}, nil
	}

	client, err := mongo.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return &stores{
		mongo:       client,
		contacts:    mongo.NewContactRepository(client.Database),
		callRecords: mongo.NewCallRecordRepository(client.Database),
		usedTokens:  mongo.NewTokenStore(client.Database),
	}, nil
}

func (s *stores) persistent() bool {
	return s.mongo != nil
}

func (s *stores) Close(ctx context.Context) {
	if s.mongo != nil {
		_ = s.mongo.Close(ctx)
	}
}
