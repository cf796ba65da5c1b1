package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-relay/internal/domain"
	relayhttp "ephemeral-relay/internal/handler/http"
	memorystate "ephemeral-relay/internal/infra/state/memory"
	"ephemeral-relay/internal/middleware"
	"ephemeral-relay/internal/service"
)

type testNode struct {
	router    *gin.Engine
	directory *service.DirectoryService
}

func newTestNode(t *testing.T, selfURL string) *testNode {
	t.Helper()
	gin.SetMode(gin.TestMode)

	roomService := service.NewRoomService(memorystate.NewRoomRepository())
	limiter := service.NewRateLimitService(memorystate.NewRateLimitRepository())
	directory := service.NewDirectoryService(selfURL, nil)
	proxy := relayhttp.NewProxy(2 * time.Second)

	roomHandler := relayhttp.NewRoomHandler(roomService, limiter, directory, proxy)
	directoryHandler := relayhttp.NewDirectoryHandler(directory)

	router := gin.New()
	router.Use(middleware.CORS())
	relayhttp.RegisterRoutes(router, roomHandler, directoryHandler)
	return &testNode{router: router, directory: directory}
}

func (n *testNode) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	n.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateRoom_ThenImmediateReplayConflicts(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","mode":"fixed","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["member_id"])
	assert.Equal(t, "aaaaaaaaaaaaaaaa", body["room_hash"])

	w = node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","mode":"fixed","nickname":"alice"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "room_exists", decode(t, w)["error"])
}

func TestCreateRoom_InvalidHash(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"tooshort","nickname":"alice"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_room_hash", decode(t, w)["error"])
}

func TestCreateRoom_RateLimited(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Fresh hash, same client: the backoff schedule kicks in.
	w = node.do(http.MethodPost, "/room", `{"room_hash":"bbbbbbbbbbbbbbbb","nickname":"alice"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, float64(10), body["retry_after"])
}

func TestJoin_UnknownRoom(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room/cccccccccccccccc/join", `{"nickname":"bob"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "room_not_found", decode(t, w)["error"])
}

func TestJoin_ReturnsPollCursor(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	memberID := decode(t, w)["member_id"].(string)

	w = node.do(http.MethodPost, "/room/aaaaaaaaaaaaaaaa/send", `{"content":"blob","sender":"x","member_id":"`+memberID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = node.do(http.MethodPost, "/room/aaaaaaaaaaaaaaaa/join", `{"nickname":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["member_id"])
	assert.Equal(t, float64(1), body["message_count"])
	assert.NotZero(t, body["last_message_ts"])
	assert.ElementsMatch(t, []interface{}{"alice", "bob"}, body["members"])
}

func TestSend_MissingContent(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = node.do(http.MethodPost, "/room/aaaaaaaaaaaaaaaa/send", `{"content":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_content", decode(t, w)["error"])
}

func TestSendAndPollRoundtrip(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	memberID := decode(t, w)["member_id"].(string)

	w = node.do(http.MethodPost, "/room/aaaaaaaaaaaaaaaa/send", `{"content":"ciphertext","sender":"spoof","member_id":"`+memberID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	sendBody := decode(t, w)
	assert.NotEmpty(t, sendBody["id"])
	assert.NotZero(t, sendBody["timestamp"])

	w = node.do(http.MethodGet, "/room/aaaaaaaaaaaaaaaa/poll?since=0", "")
	require.Equal(t, http.StatusOK, w.Code)
	pollBody := decode(t, w)
	messages := pollBody["messages"].([]interface{})
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]interface{})
	assert.Equal(t, "ciphertext", msg["content"])
	assert.Equal(t, "alice", msg["sender"], "stored nickname overrides the claimed sender")
	assert.Equal(t, float64(1), pollBody["message_count"])
}

func TestLeave_Idempotent(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	memberID := decode(t, w)["member_id"].(string)

	for i := 0; i < 2; i++ {
		w = node.do(http.MethodPost, "/room/aaaaaaaaaaaaaaaa/leave", `{"member_id":"`+memberID+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "left", decode(t, w)["status"])
	}
}

func TestInfo_ReportsTimeRemaining(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/room", `{"room_hash":"aaaaaaaaaaaaaaaa","nickname":"alice","description":"hello","emojis":["a","b"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = node.do(http.MethodGet, "/room/aaaaaaaaaaaaaaaa/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "hello", body["description"])
	assert.InDelta(t, 3600, body["time_remaining"], 5)
}

func TestGossipEndpoint(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/gossip", `{"from":"http://node-b.example","workers":["http://node-c.example"],"rooms":[]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = node.do(http.MethodGet, "/workers", "")
	require.Equal(t, http.StatusOK, w.Code)
	workers := decode(t, w)["workers"].([]interface{})
	assert.Len(t, workers, 2)
}

func TestGossipEndpoint_InvalidPayload(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodPost, "/gossip", `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_gossip", decode(t, w)["error"])

	w = node.do(http.MethodPost, "/gossip", `{"workers":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_gossip", decode(t, w)["error"])
}

func TestHealthEndpoint(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "http://node-a.example", body["node"])
	assert.NotZero(t, body["timestamp"])
}

func TestOptionsAnsweredWithCORS(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodOptions, "/room", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Body.Bytes())
}

func TestUnmatchedRoute(t *testing.T) {
	node := newTestNode(t, "http://node-a.example")

	w := node.do(http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestProxy_ForwardsToOwningNode(t *testing.T) {
	owner := newTestNode(t, "http://node-b.example")
	ownerServer := httptest.NewServer(owner.router)
	defer ownerServer.Close()

	w := owner.do(http.MethodPost, "/room", `{"room_hash":"dddddddddddddddd","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	edge := newTestNode(t, "http://node-a.example")
	edge.directory.Register(domain.RoomEntry{
		RoomHash:  "dddddddddddddddd",
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(30 * time.Minute).Unix(),
		Worker:    ownerServer.URL,
	})

	// Joining through the edge node lands on the owner; the response is
	// relayed unchanged.
	w = edge.do(http.MethodPost, "/room/dddddddddddddddd/join", `{"nickname":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["member_id"])
	assert.Contains(t, body["members"], "bob")

	// Remote errors relay too, status code included.
	w = edge.do(http.MethodPost, "/room/dddddddddddddddd/send", `{"content":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_content", decode(t, w)["error"])
}

func TestProxy_OwnerUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	edge := newTestNode(t, "http://node-a.example")
	edge.directory.Register(domain.RoomEntry{
		RoomHash:  "eeeeeeeeeeeeeeee",
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(30 * time.Minute).Unix(),
		Worker:    deadURL,
	})

	w := edge.do(http.MethodPost, "/room/eeeeeeeeeeeeeeee/join", `{"nickname":"bob"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream_unavailable", decode(t, w)["error"])
}

func TestProxy_SuccessfulRemoteJoinResetsLimiter(t *testing.T) {
	owner := newTestNode(t, "http://node-b.example")
	ownerServer := httptest.NewServer(owner.router)
	defer ownerServer.Close()

	w := owner.do(http.MethodPost, "/room", `{"room_hash":"ffffffffffffffff","nickname":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	edge := newTestNode(t, "http://node-a.example")
	edge.directory.Register(domain.RoomEntry{
		RoomHash:  "ffffffffffffffff",
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(30 * time.Minute).Unix(),
		Worker:    ownerServer.URL,
	})

	// Exhaust the first schedule step on the edge node.
	w = edge.do(http.MethodPost, "/room", `{"room_hash":"1111111111111111","nickname":"eve"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = edge.do(http.MethodPost, "/room", `{"room_hash":"2222222222222222","nickname":"eve"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// A successful proxied join clears the backoff for this IP.
	w = edge.do(http.MethodPost, "/room/ffffffffffffffff/join", `{"nickname":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = edge.do(http.MethodPost, "/room", `{"room_hash":"3333333333333333","nickname":"eve"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}
