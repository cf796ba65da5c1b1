package domain

import "time"

// Gossip tuning. Each node pushes its view to every known peer at most
// once per GossipInterval; a peer that fails WorkerFailLimit deliveries in
// a row is dropped from the mesh until rediscovered.
const (
	GossipInterval   = 30 * time.Second
	MaxGossipWorkers = 200
	MaxGossipRooms   = 200
	WorkerFailLimit  = 5
)

// WorkerEntry is one node's view of a peer in the mesh. Times are Unix
// seconds.
type WorkerEntry struct {
	URL       string `json:"url"`
	LastSeen  int64  `json:"last_seen"`
	LastOK    int64  `json:"last_ok"`
	FailCount int    `json:"fail_count"`
	IsGenesis bool   `json:"is_genesis"`
}

// RoomEntry is a fleet-wide room locator. It is a cache of facts about a
// room owned elsewhere: it routes requests but never mutates room contents.
// Worker is the single source of truth for ownership and is fixed for the
// room's lifetime.
type RoomEntry struct {
	RoomHash    string   `json:"room_hash"`
	Emojis      []string `json:"emojis,omitempty"`
	Description string   `json:"description,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	ExpiresAt   int64    `json:"expires_at"`
	Worker      string   `json:"worker"`
}

// Expired reports whether the locator entry is past its room's TTL.
func (e RoomEntry) Expired(now time.Time) bool {
	return now.Unix() > e.ExpiresAt
}

// GossipPayload is the state exchanged between peers: the sender's URL, the
// peer URLs it knows, and the live rooms it knows about, newest first.
type GossipPayload struct {
	From    string      `json:"from"`
	Workers []string    `json:"workers"`
	Rooms   []RoomEntry `json:"rooms"`
}
