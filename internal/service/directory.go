package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/domain"
)

// DirectoryService is this node's belief about the fleet: which peers
// exist and where each room lives. It is a cache, not a source of truth;
// the owning node's room store is authoritative. Peers converge by pushing
// their views to each other; there is no acknowledgment of what a peer
// actually kept, so propagation is best effort.
type DirectoryService struct {
	mu         sync.RWMutex
	selfURL    string
	genesis    []string
	workers    map[string]*domain.WorkerEntry
	rooms      map[string]domain.RoomEntry
	lastGossip time.Time

	client *http.Client
	now    func() time.Time
}

// NewDirectoryService creates the node-singleton directory. genesis lists
// the bootstrap peer URLs; selfURL is how other nodes reach this one.
func NewDirectoryService(selfURL string, genesis []string) *DirectoryService {
	if selfURL == "" {
		panic("selfURL cannot be empty for DirectoryService")
	}
	return &DirectoryService{
		selfURL: selfURL,
		genesis: genesis,
		workers: make(map[string]*domain.WorkerEntry),
		rooms:   make(map[string]domain.RoomEntry),
		client:  &http.Client{Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

// Ensure reseeds the genesis peers and this node's own entry. It runs on
// every inbound request, so genesis peers evicted after delivery failures
// are re-established as long as any traffic flows.
func (s *DirectoryService) Ensure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().Unix()
	for _, url := range s.genesis {
		if url == "" {
			continue
		}
		entry, ok := s.workers[url]
		if !ok {
			entry = &domain.WorkerEntry{URL: url}
			s.workers[url] = entry
		}
		entry.IsGenesis = true
		entry.LastSeen = now
	}
	self, ok := s.workers[s.selfURL]
	if !ok {
		self = &domain.WorkerEntry{URL: s.selfURL}
		s.workers[s.selfURL] = self
	}
	self.LastSeen = now
}

// Tick pushes this node's view to every known peer, at most once per
// gossip interval. Callers may invoke it as often as they like; the
// throttle makes the extra calls free.
func (s *DirectoryService) Tick(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastGossip) < domain.GossipInterval {
		s.mu.Unlock()
		return
	}
	s.lastGossip = now
	s.pruneLocked(now)
	payload := s.buildPayloadLocked()
	peers := make([]string, 0, len(s.workers))
	for url := range s.workers {
		if url != s.selfURL {
			peers = append(peers, url)
		}
	}
	s.mu.Unlock()

	if len(peers) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal gossip payload")
		return
	}

	// Deliveries run concurrently; the map of outcomes is applied under
	// the lock afterwards so a peer discovered mid-flight is untouched.
	type result struct {
		url string
		ok  bool
	}
	results := make(chan result, len(peers))
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			results <- result{url: peer, ok: s.push(ctx, peer, body)}
		}(peer)
	}
	wg.Wait()
	close(results)

	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := s.now().Unix()
	for res := range results {
		entry, ok := s.workers[res.url]
		if !ok {
			continue
		}
		if res.ok {
			entry.FailCount = 0
			entry.LastOK = stamp
			entry.LastSeen = stamp
			continue
		}
		entry.FailCount++
		if entry.FailCount >= domain.WorkerFailLimit {
			delete(s.workers, res.url)
			logrus.WithFields(logrus.Fields{
				"worker":     res.url,
				"fail_count": entry.FailCount,
			}).Warn("Evicting worker after repeated gossip failures")
		}
	}
}

func (s *DirectoryService) push(ctx context.Context, peer string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/gossip", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("worker", peer).Debug("Gossip delivery failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// buildPayloadLocked assembles the outbound gossip: up to MaxGossipWorkers
// peer URLs and up to MaxGossipRooms live rooms, newest first.
func (s *DirectoryService) buildPayloadLocked() *domain.GossipPayload {
	urls := make([]string, 0, len(s.workers))
	for url := range s.workers {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	if len(urls) > domain.MaxGossipWorkers {
		urls = urls[:domain.MaxGossipWorkers]
	}

	now := s.now()
	rooms := make([]domain.RoomEntry, 0, len(s.rooms))
	for _, entry := range s.rooms {
		if !entry.Expired(now) {
			rooms = append(rooms, entry)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt > rooms[j].CreatedAt })
	if len(rooms) > domain.MaxGossipRooms {
		rooms = rooms[:domain.MaxGossipRooms]
	}

	return &domain.GossipPayload{From: s.selfURL, Workers: urls, Rooms: rooms}
}

// Ingest merges a peer's view into ours. Workers are upserted with a fresh
// last_seen, preserving local fail counts and genesis flags. Rooms merge
// last-writer-wins by furthest expiry: an incoming entry replaces the
// local one only when its expires_at is strictly greater, and already
// expired entries are ignored outright.
func (s *DirectoryService) Ingest(payload *domain.GossipPayload) error {
	if payload == nil || payload.From == "" {
		return ErrInvalidGossip
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamp := now.Unix()
	seen := append([]string{payload.From}, payload.Workers...)
	for _, url := range seen {
		if url == "" {
			continue
		}
		entry, ok := s.workers[url]
		if !ok {
			entry = &domain.WorkerEntry{URL: url}
			s.workers[url] = entry
		}
		entry.LastSeen = stamp
	}

	for _, incoming := range payload.Rooms {
		if incoming.RoomHash == "" || incoming.Expired(now) {
			continue
		}
		local, ok := s.rooms[incoming.RoomHash]
		if ok && incoming.ExpiresAt <= local.ExpiresAt {
			continue
		}
		s.rooms[incoming.RoomHash] = incoming
	}

	s.pruneLocked(now)
	return nil
}

// Register records a room created on this node so it gossips out to the
// fleet. Registration is best effort and happens after the room's own
// create has committed.
func (s *DirectoryService) Register(entry domain.RoomEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.RoomHash == "" || entry.Expired(s.now()) {
		return
	}
	s.rooms[entry.RoomHash] = entry
}

// Resolve returns the URL of the node owning the room, or "" when this
// node has not heard of it. A miss means "try locally", never "does not
// exist", since the directory may simply lag behind the fleet.
func (s *DirectoryService) Resolve(hash string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[hash]
	if !ok || entry.Expired(s.now()) {
		return ""
	}
	return entry.Worker
}

// SelfURL returns this node's own address.
func (s *DirectoryService) SelfURL() string {
	return s.selfURL
}

// Workers returns a snapshot of the known peers, sorted by URL.
func (s *DirectoryService) Workers() []domain.WorkerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.WorkerEntry, 0, len(s.workers))
	for _, entry := range s.workers {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Rooms returns a snapshot of the live room locators, newest first.
func (s *DirectoryService) Rooms() []domain.RoomEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]domain.RoomEntry, 0, len(s.rooms))
	for _, entry := range s.rooms {
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// Prune drops expired room locators. Tick and Ingest already prune; this
// is the entry point for the periodic sweep task.
func (s *DirectoryService) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
}

func (s *DirectoryService) pruneLocked(now time.Time) {
	for hash, entry := range s.rooms {
		if entry.Expired(now) {
			delete(s.rooms, hash)
		}
	}
}

// Stats reports the directory sizes for the health endpoint.
func (s *DirectoryService) Stats() (workers, rooms int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers), len(s.rooms)
}
