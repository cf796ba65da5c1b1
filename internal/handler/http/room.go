package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/service"
)

// RoomHandler serves the room endpoints. For room-scoped paths it first
// resolves ownership against the directory: requests for rooms owned by
// another node are forwarded there verbatim, everything else is handled by
// the local room service.
type RoomHandler struct {
	rooms     *service.RoomService
	limiter   *service.RateLimitService
	directory *service.DirectoryService
	proxy     *Proxy
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(rooms *service.RoomService, limiter *service.RateLimitService, directory *service.DirectoryService, proxy *Proxy) *RoomHandler {
	if rooms == nil || limiter == nil || directory == nil || proxy == nil {
		panic("RoomHandler dependencies cannot be nil")
	}
	return &RoomHandler{rooms: rooms, limiter: limiter, directory: directory, proxy: proxy}
}

// RoomSnapshot is the client view of a room. Member tokens stay private;
// only nicknames are exposed.
type RoomSnapshot struct {
	RoomHash    string          `json:"room_hash"`
	Mode        domain.RoomMode `json:"mode"`
	Emojis      []string        `json:"emojis,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	ExpiresAt   int64           `json:"expires_at"`
	Members     []string        `json:"members"`
}

func newRoomSnapshot(room *domain.Room) RoomSnapshot {
	return RoomSnapshot{
		RoomHash:    room.RoomHash,
		Mode:        room.Mode,
		Emojis:      room.Emojis,
		Description: room.Description,
		CreatedAt:   room.CreatedAt,
		ExpiresAt:   room.ExpiresAt,
		Members:     room.Nicknames(),
	}
}

// CreateRoomRequest is the body of POST /room.
type CreateRoomRequest struct {
	RoomHash    string   `json:"room_hash" binding:"required"`
	Mode        string   `json:"mode"`
	Emojis      []string `json:"emojis"`
	Description string   `json:"description"`
	Nickname    string   `json:"nickname"`
}

// CreateRoomResponse is the snapshot plus the creator's member token.
type CreateRoomResponse struct {
	RoomSnapshot
	MemberID string `json:"member_id"`
}

// Create handles POST /room: rate-limit check, local create, then
// fire-and-forget registration with the directory so the room gossips out.
func (h *RoomHandler) Create(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidRoomHash.Error())
		return
	}
	if !domain.ValidRoomHash(req.RoomHash) {
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidRoomHash.Error())
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_hash": req.RoomHash, "client_ip": c.ClientIP()})

	// A replayed create is a conflict, not an abuse attempt: it must not
	// burn the caller's backoff budget.
	if h.rooms.Exists(c.Request.Context(), req.RoomHash) {
		HandleServiceError(c, service.ErrRoomExists)
		return
	}

	if err := h.limiter.Check(c.Request.Context(), c.ClientIP()); err != nil {
		logCtx.WithError(err).Warn("Room creation denied by rate limiter")
		HandleServiceError(c, err)
		return
	}

	room, memberID, err := h.rooms.Create(c.Request.Context(), service.CreateParams{
		RoomHash:    req.RoomHash,
		Mode:        domain.RoomMode(req.Mode),
		Emojis:      req.Emojis,
		Description: req.Description,
		Nickname:    req.Nickname,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	// Registration is a separate best-effort step: the room is live
	// locally before the fleet can discover it.
	entry := domain.RoomEntry{
		RoomHash:    room.RoomHash,
		Emojis:      room.Emojis,
		Description: room.Description,
		CreatedAt:   room.CreatedAt,
		ExpiresAt:   room.ExpiresAt,
		Worker:      h.directory.SelfURL(),
	}
	go h.directory.Register(entry)

	logCtx.Info("Room created")
	SuccessResponse(c, http.StatusOK, CreateRoomResponse{
		RoomSnapshot: newRoomSnapshot(room),
		MemberID:     memberID,
	})
}

// forwardIfRemote proxies the request when another node owns the room.
// It reports whether the request was handled (proxied or failed). An
// unknown owner means "handle locally": the directory may simply not have
// heard of the room yet.
func (h *RoomHandler) forwardIfRemote(c *gin.Context, hash string) bool {
	owner := h.directory.Resolve(hash)
	if owner == "" || owner == h.directory.SelfURL() {
		return false
	}
	status, err := h.proxy.Forward(c, owner)
	if err != nil {
		HandleServiceError(c, service.ErrUpstreamUnavailable)
		return true
	}
	// A successful join on the owning node clears this IP's creation
	// backoff, wherever the join actually ran.
	if strings.HasSuffix(c.Request.URL.Path, "/join") && status >= 200 && status < 300 {
		h.limiter.Reset(c.Request.Context(), c.ClientIP())
	}
	return true
}

func validHashParam(c *gin.Context) (string, bool) {
	hash := c.Param("hash")
	if !domain.ValidRoomHash(hash) {
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidRoomHash.Error())
		return "", false
	}
	return hash, true
}

// JoinRoomRequest is the body of POST /room/:hash/join.
type JoinRoomRequest struct {
	Nickname string `json:"nickname"`
}

// JoinRoomResponse returns the snapshot plus the new member token and a
// poll cursor hint.
type JoinRoomResponse struct {
	RoomSnapshot
	MemberID      string `json:"member_id"`
	MessageCount  int    `json:"message_count"`
	LastMessageTS int64  `json:"last_message_ts"`
}

// Join handles POST /room/:hash/join.
func (h *RoomHandler) Join(c *gin.Context) {
	hash, ok := validHashParam(c)
	if !ok {
		return
	}
	if h.forwardIfRemote(c, hash) {
		return
	}

	var req JoinRoomRequest
	_ = c.ShouldBindJSON(&req) // empty body means anonymous nickname

	room, memberID, err := h.rooms.Join(c.Request.Context(), hash, req.Nickname)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.limiter.Reset(c.Request.Context(), c.ClientIP())
	SuccessResponse(c, http.StatusOK, JoinRoomResponse{
		RoomSnapshot:  newRoomSnapshot(room),
		MemberID:      memberID,
		MessageCount:  len(room.Messages),
		LastMessageTS: room.LastMessageTS(),
	})
}

// SendMessageRequest is the body of POST /room/:hash/send. Content is an
// opaque ciphertext blob.
type SendMessageRequest struct {
	Content  string `json:"content"`
	Sender   string `json:"sender"`
	MemberID string `json:"member_id"`
}

// SendMessageResponse acknowledges a stored message.
type SendMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Send handles POST /room/:hash/send.
func (h *RoomHandler) Send(c *gin.Context) {
	hash, ok := validHashParam(c)
	if !ok {
		return
	}
	if h.forwardIfRemote(c, hash) {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, service.ErrMissingContent.Error())
		return
	}
	msg, err := h.rooms.Send(c.Request.Context(), hash, req.Content, req.Sender, req.MemberID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, SendMessageResponse{ID: msg.ID, Timestamp: msg.Timestamp})
}

// PollResponse is the body of GET /room/:hash/poll.
type PollResponse struct {
	Messages     []domain.Message `json:"messages"`
	Members      []string         `json:"members"`
	ExpiresAt    int64            `json:"expires_at"`
	MessageCount int              `json:"message_count"`
}

// Poll handles GET /room/:hash/poll?since=&member_id=. This is the only
// read path; clients poll at a fixed interval.
func (h *RoomHandler) Poll(c *gin.Context) {
	hash, ok := validHashParam(c)
	if !ok {
		return
	}
	if h.forwardIfRemote(c, hash) {
		return
	}

	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	result, err := h.rooms.Poll(c.Request.Context(), hash, since)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, PollResponse{
		Messages:     result.Messages,
		Members:      result.Members,
		ExpiresAt:    result.ExpiresAt,
		MessageCount: result.MessageCount,
	})
}

// LeaveRoomRequest is the body of POST /room/:hash/leave.
type LeaveRoomRequest struct {
	MemberID string `json:"member_id"`
}

// Leave handles POST /room/:hash/leave. Removal is idempotent.
func (h *RoomHandler) Leave(c *gin.Context) {
	hash, ok := validHashParam(c)
	if !ok {
		return
	}
	if h.forwardIfRemote(c, hash) {
		return
	}

	var req LeaveRoomRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.rooms.Leave(c.Request.Context(), hash, req.MemberID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"status": "left"})
}

// InfoResponse is the snapshot plus the remaining TTL in seconds.
type InfoResponse struct {
	RoomSnapshot
	TimeRemaining int64 `json:"time_remaining"`
	MessageCount  int   `json:"message_count"`
}

// Info handles GET /room/:hash/info.
func (h *RoomHandler) Info(c *gin.Context) {
	hash, ok := validHashParam(c)
	if !ok {
		return
	}
	if h.forwardIfRemote(c, hash) {
		return
	}

	room, remaining, err := h.rooms.Info(c.Request.Context(), hash)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, InfoResponse{
		RoomSnapshot:  newRoomSnapshot(room),
		TimeRemaining: remaining,
		MessageCount:  len(room.Messages),
	})
}
