// Package memorystate provides map-backed repository implementations for
// single-node deployments and tests. The redis implementations under
// infra/state/redis are the production counterparts.
package memorystate

import (
	"context"
	"sync"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/repository"
)

// RoomRepository is an in-memory RoomRepository. It never expires entries
// on its own; the service layer deletes rooms when a read finds them past
// their TTL.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

// NewRoomRepository creates an empty in-memory room store.
func NewRoomRepository() *RoomRepository {
	return &RoomRepository{rooms: make(map[string]*domain.Room)}
}

func (r *RoomRepository) Get(_ context.Context, hash string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Deep copy: a shallow copy would hand every caller the same Members
	// map and Messages array, and snapshots are read after the service
	// releases its room lock.
	return room.Clone(), nil
}

func (r *RoomRepository) Save(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.RoomHash] = room.Clone()
	return nil
}

func (r *RoomRepository) Delete(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, hash)
	return nil
}

// RateLimitRepository is an in-memory RateLimitRepository.
type RateLimitRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.RateLimitEntry
}

// NewRateLimitRepository creates an empty in-memory rate-limit store.
func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{entries: make(map[string]*domain.RateLimitEntry)}
}

func (r *RateLimitRepository) Get(_ context.Context, ip string) (*domain.RateLimitEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[ip]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (r *RateLimitRepository) Save(_ context.Context, ip string, entry *domain.RateLimitEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[ip] = &cp
	return nil
}

func (r *RateLimitRepository) Delete(_ context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ip)
	return nil
}
