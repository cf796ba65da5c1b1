package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/repository"
)

// RateLimitService enforces the room-creation backoff schedule per client
// IP. A single mutex serializes checks; the limiter is a node-wide
// singleton and each check is a cheap read-modify-write.
type RateLimitService struct {
	limitRepo repository.RateLimitRepository
	mu        sync.Mutex
	now       func() time.Time
}

// NewRateLimitService creates a RateLimitService.
func NewRateLimitService(limitRepo repository.RateLimitRepository) *RateLimitService {
	if limitRepo == nil {
		panic("RateLimitRepository cannot be nil for RateLimitService")
	}
	return &RateLimitService{
		limitRepo: limitRepo,
		now:       time.Now,
	}
}

// Check records a creation attempt for ip and decides whether it may
// proceed. Denials return a *RateLimitedError carrying the remaining wait.
func (s *RateLimitService) Check(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, err := s.limitRepo.Get(ctx, ip)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).WithField("client_ip", ip).Error("Failed to load rate limit entry")
		return ErrInternalServer
	}

	// First attempt, or the client has been quiet long enough to forgive.
	if entry == nil || entry.Stale(now) {
		fresh := &domain.RateLimitEntry{Count: 1, LastAttempt: now.Unix()}
		if err := s.limitRepo.Save(ctx, ip, fresh); err != nil {
			logrus.WithError(err).WithField("client_ip", ip).Error("Failed to save rate limit entry")
			return ErrInternalServer
		}
		return nil
	}

	// Every attempt advances the counter, denied or not, so rapid-fire
	// callers walk the whole schedule instead of re-reading its first
	// entry.
	elapsed := now.Unix() - entry.LastAttempt
	required := domain.RetryDelayFor(entry.Count)
	entry.Count++
	entry.LastAttempt = now.Unix()
	if err := s.limitRepo.Save(ctx, ip, entry); err != nil {
		logrus.WithError(err).WithField("client_ip", ip).Error("Failed to save rate limit entry")
		return ErrInternalServer
	}
	if elapsed < required {
		return &RateLimitedError{RetryAfter: required - elapsed}
	}
	return nil
}

// Reset forgets the entry for ip. The router calls it when a join (not a
// create) succeeds, so returning users are never penalized by someone
// else's failed attempts from the same address.
func (s *RateLimitService) Reset(ctx context.Context, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.limitRepo.Delete(ctx, ip); err != nil {
		logrus.WithError(err).WithField("client_ip", ip).Warn("Failed to reset rate limit entry")
	}
}
