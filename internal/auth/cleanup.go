package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TokenCleanupService periodically forgets the IDs of expired tokens. An
// expired token fails validation before its ID is ever looked up, so its
// entry is no longer needed to detect replay.
type TokenCleanupService struct {
	store    UsedTokenStore
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewTokenCleanupService creates a new cleanup service.
func NewTokenCleanupService(store UsedTokenStore, interval time.Duration, logger *zap.Logger) *TokenCleanupService {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &TokenCleanupService{
		store:    store,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background cleanup process.
func (s *TokenCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Token cleanup service started", zap.Duration("interval", s.interval))
}

// Stop stops the cleanup loop and waits for it to return.
func (s *TokenCleanupService) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info("Token cleanup service stopped")
}

func (s *TokenCleanupService) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *TokenCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := s.store.Purge(ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to purge used token IDs", zap.Error(err))
		return
	}
	s.logger.Debug("Purged used token IDs", zap.Int("count", purged))
}
