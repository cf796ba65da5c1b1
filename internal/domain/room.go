package domain

import (
	"time"
	"unicode/utf8"
)

// Room lifetimes and caps shared by every node in the fleet.
const (
	RoomTTL        = time.Hour // fixed at creation, never extended
	MaxMessages    = 500
	MaxNickname    = 20
	MaxEmojis      = 6
	MaxDescription = 140
	RoomHashLen    = 16
)

// RoomMode enumerates room variants. Only one exists today; the field is
// kept on the wire so future variants don't break old peers.
type RoomMode string

const RoomModeFixed RoomMode = "fixed"

// Message is a single relayed chat message. Content is an opaque ciphertext
// blob; the relay never inspects it.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Room is the full state of one chat room, owned by exactly one node for
// the room's whole lifetime. All times are Unix seconds.
type Room struct {
	RoomHash    string            `json:"room_hash"`
	Mode        RoomMode          `json:"mode"`
	Emojis      []string          `json:"emojis,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	ExpiresAt   int64             `json:"expires_at"`
	Members     map[string]string `json:"members"` // member id -> nickname
	Messages    []Message         `json:"messages"`
}

// ValidRoomHash reports whether h has the expected fingerprint length.
// The relay never learns the plaintext identifier the hash was derived
// from, so length is the only thing it can check.
func ValidRoomHash(h string) bool {
	return len(h) == RoomHashLen
}

// Expired reports whether the room is past its TTL at the given instant.
func (r *Room) Expired(now time.Time) bool {
	return now.Unix() > r.ExpiresAt
}

// AppendMessage appends m and enforces the FIFO cap: once the log holds
// MaxMessages entries the oldest is dropped to make room.
func (r *Room) AppendMessage(m Message) {
	r.Messages = append(r.Messages, m)
	if len(r.Messages) > MaxMessages {
		r.Messages = r.Messages[len(r.Messages)-MaxMessages:]
	}
}

// MessagesSince returns all messages with a timestamp strictly greater
// than since, preserving order.
func (r *Room) MessagesSince(since int64) []Message {
	out := make([]Message, 0)
	for _, m := range r.Messages {
		if m.Timestamp > since {
			out = append(out, m)
		}
	}
	return out
}

// LastMessageTS returns the timestamp of the newest message, or 0 when the
// room has none. Joining clients use it to choose a poll cursor.
func (r *Room) LastMessageTS() int64 {
	if len(r.Messages) == 0 {
		return 0
	}
	return r.Messages[len(r.Messages)-1].Timestamp
}

// Clone returns a copy with its own Members map and Messages slice, safe
// to read while the original keeps changing.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Members = make(map[string]string, len(r.Members))
	for id, nick := range r.Members {
		cp.Members[id] = nick
	}
	cp.Messages = append([]Message(nil), r.Messages...)
	cp.Emojis = append([]string(nil), r.Emojis...)
	return &cp
}

// Nicknames returns the member nicknames without exposing member tokens.
func (r *Room) Nicknames() []string {
	out := make([]string, 0, len(r.Members))
	for _, nick := range r.Members {
		out = append(out, nick)
	}
	return out
}

// TruncateNickname clamps a caller-supplied nickname, substituting a
// default for the empty string.
func TruncateNickname(nick string) string {
	if nick == "" {
		return "anon"
	}
	return truncateRunes(nick, MaxNickname)
}

// TruncateDescription clamps a caller-supplied room description.
func TruncateDescription(desc string) string {
	return truncateRunes(desc, MaxDescription)
}

// truncateRunes caps s at max runes. Cutting at a byte index could split
// a multi-byte rune and store invalid UTF-8.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// ClampEmojis keeps at most MaxEmojis entries.
func ClampEmojis(emojis []string) []string {
	if len(emojis) > MaxEmojis {
		return emojis[:MaxEmojis]
	}
	return emojis
}
