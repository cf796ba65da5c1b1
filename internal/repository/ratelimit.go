package repository

import (
	"context"

	"ephemeral-relay/internal/domain"
)

// RateLimitRepository stores per-client-IP attempt counters.
type RateLimitRepository interface {
	// Get returns the entry for ip or ErrNotFound.
	Get(ctx context.Context, ip string) (*domain.RateLimitEntry, error)

	// Save stores the entry for ip.
	Save(ctx context.Context, ip string, entry *domain.RateLimitEntry) error

	// Delete removes the entry for ip. Absent entries are not an error.
	Delete(ctx context.Context, ip string) error
}
