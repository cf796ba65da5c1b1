package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/repository"
)

// RoomService owns every room hosted on this node. Operations on one room
// are serialized by a mutex striped on the room hash, so a room behaves
// like a single-threaded actor while distinct rooms proceed concurrently.
// Expiry is lazy: the first read past expires_at deletes the room and
// reports it as never having existed.
type RoomService struct {
	roomRepo repository.RoomRepository
	locks    [64]sync.Mutex
	now      func() time.Time
}

// NewRoomService creates a RoomService.
func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo: roomRepo,
		now:      time.Now,
	}
}

func (s *RoomService) lockFor(hash string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// getLive loads a room and applies the lazy expiry rule: an expired room is
// deleted and reported as ErrRoomNotFound. Callers must hold the room lock.
func (s *RoomService) getLive(ctx context.Context, hash string) (*domain.Room, error) {
	room, err := s.roomRepo.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_hash", hash).Error("Failed to load room from repository")
		return nil, ErrInternalServer
	}
	if room.Expired(s.now()) {
		if delErr := s.roomRepo.Delete(ctx, hash); delErr != nil {
			logrus.WithError(delErr).WithField("room_hash", hash).Warn("Failed to delete expired room")
		}
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Exists reports whether a live room currently holds hash.
func (s *RoomService) Exists(ctx context.Context, hash string) bool {
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()
	_, err := s.getLive(ctx, hash)
	return err == nil
}

// CreateParams carries the client-supplied fields for room creation.
type CreateParams struct {
	RoomHash    string
	Mode        domain.RoomMode
	Emojis      []string
	Description string
	Nickname    string
}

// Create creates a new room and enrolls the creator as its first member.
// A live room under the same hash fails with ErrRoomExists; an expired one
// is displaced.
func (s *RoomService) Create(ctx context.Context, p CreateParams) (*domain.Room, string, error) {
	if !domain.ValidRoomHash(p.RoomHash) {
		return nil, "", ErrInvalidRoomHash
	}
	logCtx := logrus.WithField("room_hash", p.RoomHash)

	mu := s.lockFor(p.RoomHash)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.getLive(ctx, p.RoomHash); err == nil {
		logCtx.Warn("Room already exists, refusing create")
		return nil, "", ErrRoomExists
	} else if !errors.Is(err, ErrRoomNotFound) {
		return nil, "", err
	}

	mode := p.Mode
	if mode == "" {
		mode = domain.RoomModeFixed
	}
	memberID := uuid.NewString()
	now := s.now().Unix()
	room := &domain.Room{
		RoomHash:    p.RoomHash,
		Mode:        mode,
		Emojis:      domain.ClampEmojis(p.Emojis),
		Description: domain.TruncateDescription(p.Description),
		CreatedAt:   now,
		ExpiresAt:   now + int64(domain.RoomTTL/time.Second),
		Members:     map[string]string{memberID: domain.TruncateNickname(p.Nickname)},
		Messages:    []domain.Message{},
	}
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, "", ErrInternalServer
	}
	logCtx.WithField("expires_at", room.ExpiresAt).Info("Room created")
	return room, memberID, nil
}

// Join adds a new member and returns the room plus the fresh member id.
func (s *RoomService) Join(ctx context.Context, hash, nickname string) (*domain.Room, string, error) {
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.getLive(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	memberID := uuid.NewString()
	room.Members[memberID] = domain.TruncateNickname(nickname)
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_hash", hash).Error("Failed to save room after join")
		return nil, "", ErrInternalServer
	}
	return room, memberID, nil
}

// Send appends a message. When memberID resolves to a member, the stored
// nickname overrides the caller-supplied sender; without a member id the
// sender string is trusted verbatim (kept from the original protocol to
// allow unauthenticated senders).
func (s *RoomService) Send(ctx context.Context, hash, content, sender, memberID string) (*domain.Message, error) {
	if content == "" {
		return nil, ErrMissingContent
	}
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.getLive(ctx, hash)
	if err != nil {
		return nil, err
	}
	if nick, ok := room.Members[memberID]; ok && memberID != "" {
		sender = nick
	}
	msg := domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		Timestamp: s.now().Unix(),
	}
	room.AppendMessage(msg)
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_hash", hash).Error("Failed to save room after send")
		return nil, ErrInternalServer
	}
	return &msg, nil
}

// PollResult is the read-path view of a room.
type PollResult struct {
	Messages     []domain.Message
	Members      []string
	ExpiresAt    int64
	MessageCount int
}

// Poll returns all messages newer than since plus the current membership.
func (s *RoomService) Poll(ctx context.Context, hash string, since int64) (*PollResult, error) {
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.getLive(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &PollResult{
		Messages:     room.MessagesSince(since),
		Members:      room.Nicknames(),
		ExpiresAt:    room.ExpiresAt,
		MessageCount: len(room.Messages),
	}, nil
}

// Leave removes a member. Removing an unknown or empty member id is a
// no-op; only a missing room is an error.
func (s *RoomService) Leave(ctx context.Context, hash, memberID string) error {
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.getLive(ctx, hash)
	if err != nil {
		return err
	}
	if _, ok := room.Members[memberID]; !ok {
		return nil
	}
	delete(room.Members, memberID)
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_hash", hash).Error("Failed to save room after leave")
		return ErrInternalServer
	}
	return nil
}

// Info returns the room plus its remaining TTL in seconds.
func (s *RoomService) Info(ctx context.Context, hash string) (*domain.Room, int64, error) {
	mu := s.lockFor(hash)
	mu.Lock()
	defer mu.Unlock()

	room, err := s.getLive(ctx, hash)
	if err != nil {
		return nil, 0, err
	}
	remaining := room.ExpiresAt - s.now().Unix()
	if remaining < 0 {
		remaining = 0
	}
	return room, remaining, nil
}
