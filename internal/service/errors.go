package service

import (
	"errors"
	"fmt"
)

// Business errors surfaced to clients. The message doubles as the wire
// error code, so these strings are part of the HTTP contract.
var (
	ErrRoomNotFound        = errors.New("room_not_found")
	ErrRoomExists          = errors.New("room_exists")
	ErrInvalidRoomHash     = errors.New("invalid_room_hash")
	ErrMissingContent      = errors.New("missing_content")
	ErrInvalidGossip       = errors.New("invalid_gossip")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrInternalServer      = errors.New("internal server error")
)

// RateLimitedError denies a room creation attempt and carries the seconds
// the caller must wait before retrying.
type RateLimitedError struct {
	RetryAfter int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %ds", e.RetryAfter)
}
