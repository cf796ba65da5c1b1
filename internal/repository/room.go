package repository

import (
	"context"

	"ephemeral-relay/internal/domain"
)

// RoomRepository is the key-value slot backing one node's rooms, keyed by
// room hash. Implementations do not interpret room contents; TTL handling
// beyond best-effort storage expiry is the service's job (expiry is lazy,
// checked on read).
type RoomRepository interface {
	// Get returns the stored room or ErrNotFound.
	Get(ctx context.Context, hash string) (*domain.Room, error)

	// Save stores the room, overwriting any previous value for its hash.
	Save(ctx context.Context, room *domain.Room) error

	// Delete removes the room. Deleting an absent hash is not an error.
	Delete(ctx context.Context, hash string) error
}
