package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talkback/backend/internal/api/handler"
	"talkback/backend/internal/cache"
	"talkback/backend/internal/chat"
	"talkback/backend/internal/chathub"
	"talkback/backend/internal/members"
	"talkback/backend/internal/models"
	"talkback/backend/internal/notification"
	"talkback/backend/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	router *gin.Engine
	auth   *handler.Authenticator
	store  *storage.MemoryStore
	notes  *notification.Service
	room   string
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := storage.NewMemoryStore()
	presence := cache.NewPresence(rdb, 10*time.Minute, 2*time.Minute)
	hub := chathub.NewManagerService(presence, chathub.Options{})
	notes := notification.NewService(store, hub)
	hub.SetBacklogFlusher(notes.FlushBacklog)
	chatSvc := chat.NewService(chat.Deps{
		Messages: store,
		Rooms:    store,
		Members:  members.NewStoreResolver(store),
		Cache:    cache.NewRecentMessages(rdb, 30, 10*time.Minute),
		Unread:   cache.NewUnreadCounter(rdb, 10*time.Minute),
		Presence: presence,
		Notifier: notes,
		Live:     hub,
	}, chat.Options{})
	hub.SetFrameHandler(chatSvc)

	auth := handler.NewAuthenticator("test-secret", "talkback-test", time.Hour)
	h := handler.NewHandler(chatSvc, notes, hub, store, auth, 16)

	ctx := context.Background()
	for id, name := range map[string]string{"A": "Anna", "B": "Bohdan", "C": "Chrystia"} {
		require.NoError(t, store.SaveMember(ctx, &models.Member{ID: id, DisplayName: name}))
	}
	room, _, err := chatSvc.RequestChat(ctx, "A", "B", "")
	require.NoError(t, err)
	_, err = chatSvc.Accept(ctx, room.Token, "B")
	require.NoError(t, err)

	return &env{router: handler.NewRouter(h, handler.RouterOptions{IssueTokens: true}), auth: auth, store: store, notes: notes, room: room.Token}
}

func (e *env) token(t *testing.T, member string) string {
	t.Helper()
	tok, err := e.auth.Issue(member)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, member, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if member != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, member))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsMissingAndForeignTokens(t *testing.T) {
	e := newEnv(t)

	missing := e.do(t, "", http.MethodGet, "/api/chat-room", nil)

	foreign, err := handler.NewAuthenticator("other-secret", "talkback-test", time.Hour).Issue("A")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/chat-room", nil)
	req.Header.Set("Authorization", "Bearer "+foreign)
	forged := httptest.NewRecorder()
	e.router.ServeHTTP(forged, req)

	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, http.StatusUnauthorized, forged.Code)
}

func TestAuth_QueryTokenIsAccepted(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/chat-room?token="+e.token(t, "A"), nil)
	w := httptest.NewRecorder()

	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueToken_CreatesMember(t *testing.T) {
	// Arrange
	e := newEnv(t)

	// Act
	w := e.do(t, "", http.MethodPost, "/auth/token", map[string]string{"displayName": "Dmytro"})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token    string `json:"token"`
		MemberID string `json:"memberId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, err := e.auth.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.MemberID, id)
	m, err := e.store.MemberByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Dmytro", m.DisplayName)
}

func TestPostMessage_ThenReadIt(t *testing.T) {
	// Arrange
	e := newEnv(t)

	// Act
	posted := e.do(t, "A", http.MethodPost, "/api/chat-message", map[string]string{"roomToken": e.room, "content": "hello"})
	recent := e.do(t, "B", http.MethodGet, "/api/chat-message/"+e.room+"/recent?count=10", nil)
	unread := e.do(t, "B", http.MethodGet, "/api/chat-message/"+e.room+"/unread", nil)

	// Assert
	require.Equal(t, http.StatusCreated, posted.Code)
	var view models.MessageView
	require.NoError(t, json.Unmarshal(posted.Body.Bytes(), &view))
	assert.Equal(t, "Anna", view.SenderName)
	assert.Equal(t, "B", view.ReceiverID)

	require.Equal(t, http.StatusOK, recent.Code)
	var views []models.MessageView
	require.NoError(t, json.Unmarshal(recent.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, view.MessageID, views[0].MessageID)

	assert.JSONEq(t, `{"unreadCount":1}`, unread.Body.String())
}

func TestPostMessage_ErrorStatuses(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		member string
		body   map[string]string
		want   int
	}{
		{"empty content", "A", map[string]string{"roomToken": e.room, "content": ""}, http.StatusBadRequest},
		{"missing room", "A", map[string]string{"content": "hi"}, http.StatusBadRequest},
		{"unknown room", "A", map[string]string{"roomToken": "nope", "content": "hi"}, http.StatusNotFound},
		{"outsider", "C", map[string]string{"roomToken": e.room, "content": "hi"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.member, http.MethodPost, "/api/chat-message", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPreviousMessages(t *testing.T) {
	// Arrange
	e := newEnv(t)
	for _, text := range []string{"one", "two", "three"} {
		require.Equal(t, http.StatusCreated, e.do(t, "A", http.MethodPost, "/api/chat-message", map[string]string{"roomToken": e.room, "content": text}).Code)
	}
	var latest []models.MessageView
	require.NoError(t, json.Unmarshal(e.do(t, "A", http.MethodGet, "/api/chat-message/"+e.room+"/recent?count=1", nil).Body.Bytes(), &latest))
	require.Len(t, latest, 1)

	// Act
	path := "/api/chat-message/" + e.room + "/previous?before=" + latest[0].Timestamp.Format(time.RFC3339Nano) + "&beforeId=" + latest[0].MessageID
	w := e.do(t, "A", http.MethodGet, path, nil)
	bad := e.do(t, "A", http.MethodGet, "/api/chat-message/"+e.room+"/previous?before=yesterday", nil)
	outsider := e.do(t, "C", http.MethodGet, "/api/chat-message/"+e.room+"/previous", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var views []models.MessageView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "one", views[0].Content)
	assert.Equal(t, "two", views[1].Content)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, http.StatusForbidden, outsider.Code)
}

func TestRooms_RequestAcceptFlow(t *testing.T) {
	// Arrange
	e := newEnv(t)

	// Act
	created := e.do(t, "C", http.MethodPost, "/api/chat-room", map[string]string{"targetId": "A"})
	var room struct {
		RoomToken string `json:"roomToken"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &room))
	received := e.do(t, "A", http.MethodGet, "/api/chat-room/requests?role=received", nil)
	bySender := e.do(t, "C", http.MethodPost, "/api/chat-room/"+room.RoomToken+"/accept", nil)
	accepted := e.do(t, "A", http.MethodPost, "/api/chat-room/"+room.RoomToken+"/accept", nil)
	rejectLate := e.do(t, "A", http.MethodPost, "/api/chat-room/"+room.RoomToken+"/reject", nil)
	badRole := e.do(t, "A", http.MethodGet, "/api/chat-room/requests?role=owner", nil)

	// Assert
	assert.Equal(t, http.StatusCreated, created.Code)
	assert.Contains(t, received.Body.String(), room.RoomToken)
	assert.Equal(t, http.StatusForbidden, bySender.Code)
	assert.Equal(t, http.StatusOK, accepted.Code)
	assert.Contains(t, accepted.Body.String(), `"ACCEPTED"`)
	assert.Equal(t, http.StatusConflict, rejectLate.Code)
	assert.Equal(t, http.StatusBadRequest, badRole.Code)
}

func TestNotifications_ListCountAndMarkRead(t *testing.T) {
	// Arrange
	e := newEnv(t)
	n, _, err := e.notes.Notify(context.Background(), "A", models.SystemPayload{Title: "Welcome", Content: "hi"})
	require.NoError(t, err)

	// Act
	list := e.do(t, "A", http.MethodGet, "/api/notify?page=0&size=10", nil)
	before := e.do(t, "A", http.MethodGet, "/api/notify/unread-count", nil)
	marked := e.do(t, "A", http.MethodPatch, "/api/notify/"+n.ID+"/read", nil)
	missing := e.do(t, "A", http.MethodPatch, "/api/notify/does-not-exist/read", nil)
	after := e.do(t, "A", http.MethodGet, "/api/notify/unread-count", nil)

	// Assert
	require.Equal(t, http.StatusOK, list.Code)
	var page notification.Page
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &page))
	// A also holds the acceptance notice from setup
	assert.Equal(t, int64(2), page.TotalItems)
	assert.Equal(t, n.ID, page.Items[0].ID)
	assert.JSONEq(t, `{"unreadCount":2}`, before.Body.String())
	assert.Equal(t, http.StatusNoContent, marked.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.JSONEq(t, `{"unreadCount":1}`, after.Body.String())
}

func TestServeSSE_FlushesBacklog(t *testing.T) {
	// Arrange
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()
	_, _, err := e.notes.Notify(context.Background(), "B", models.SystemPayload{Title: "Ping", Content: "backlog"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notify/sse?token="+e.token(t, "B"), nil)
	require.NoError(t, err)

	// Act
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") && strings.Contains(line, "backlog") {
			data = line
			break
		}
	}
	assert.Contains(t, data, `"title":"Ping"`)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	health := e.do(t, "", http.MethodGet, "/healthz", nil)
	metrics := e.do(t, "", http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "talkback_")
}

func TestCORS_PreflightAllowed(t *testing.T) {
	// Arrange
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat-message", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()

	// Act
	e.router.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
