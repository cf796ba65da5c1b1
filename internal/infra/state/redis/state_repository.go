package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/repository"
)

// RoomRepository is the redis implementation of repository.RoomRepository.
// Each room is one JSON value whose redis expiry tracks the room TTL, so
// storage for dead rooms is reclaimed even if no request ever reads them
// again. The service layer still performs its own lazy expiry check: the
// redis TTL carries a small grace so the authoritative comparison happens
// on read.
type RoomRepository struct {
	client    *redis.Client
	keyPrefix string
}

const roomExpiryGrace = time.Minute

// NewRoomRepository creates a redis-backed room store.
func NewRoomRepository(client *redis.Client, keyPrefix string) *RoomRepository {
	if client == nil {
		panic("redis client cannot be nil for RoomRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "relay:"
	}
	return &RoomRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RoomRepository) roomKey(hash string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, hash)
}

func (r *RoomRepository) Get(ctx context.Context, hash string) (*domain.Room, error) {
	key := r.roomKey(hash)
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: failed to get room %s from %s: %w", hash, key, err)
	}
	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room %s from %s: %w", hash, key, err)
	}
	return &room, nil
}

func (r *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	key := r.roomKey(room.RoomHash)
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room %s: %w", room.RoomHash, err)
	}
	ttl := time.Until(time.Unix(room.ExpiresAt, 0)) + roomExpiryGrace
	if ttl <= 0 {
		ttl = roomExpiryGrace
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set room %s on key %s: %w", room.RoomHash, key, err)
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, hash string) error {
	key := r.roomKey(hash)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete room %s on key %s: %w", hash, key, err)
	}
	return nil
}

// RateLimitRepository is the redis implementation of
// repository.RateLimitRepository. Entries expire with the inactivity
// cooldown, which doubles as the reset rule: a key that lapses in redis is
// exactly an entry the limiter would have discarded anyway.
type RateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRateLimitRepository creates a redis-backed rate-limit store.
func NewRateLimitRepository(client *redis.Client, keyPrefix string) *RateLimitRepository {
	if client == nil {
		panic("redis client cannot be nil for RateLimitRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "relay:"
	}
	return &RateLimitRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RateLimitRepository) limitKey(ip string) string {
	return fmt.Sprintf("%srl:%s", r.keyPrefix, ip)
}

func (r *RateLimitRepository) Get(ctx context.Context, ip string) (*domain.RateLimitEntry, error) {
	key := r.limitKey(ip)
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: failed to get rate limit entry for %s from %s: %w", ip, key, err)
	}
	var entry domain.RateLimitEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal rate limit entry from %s: %w", key, err)
	}
	return &entry, nil
}

func (r *RateLimitRepository) Save(ctx context.Context, ip string, entry *domain.RateLimitEntry) error {
	key := r.limitKey(ip)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal rate limit entry for %s: %w", ip, err)
	}
	if err := r.client.Set(ctx, key, data, domain.RateLimitCooldown).Err(); err != nil {
		return fmt.Errorf("redis: failed to set rate limit entry on key %s: %w", key, err)
	}
	return nil
}

func (r *RateLimitRepository) Delete(ctx context.Context, ip string) error {
	key := r.limitKey(ip)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete rate limit entry on key %s: %w", key, err)
	}
	return nil
}
