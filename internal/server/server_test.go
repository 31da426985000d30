package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/identity"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/internal/mocks"
	"github.com/omochice/roomchat/internal/server"
	"github.com/omochice/roomchat/internal/storage"
	"github.com/omochice/roomchat/internal/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type providerFunc func(ctx context.Context, token string) (chat.Identity, error)

func (f providerFunc) Verify(ctx context.Context, token string) (chat.Identity, error) {
	return f(ctx, token)
}

// tokenIsUser treats the token as the user id.
var tokenIsUser = providerFunc(func(_ context.Context, token string) (chat.Identity, error) {
	if token == "bad" {
		return chat.Identity{}, identity.ErrInvalidToken
	}
	return chat.Identity{ID: token, Role: chat.DefaultRole}, nil
})

type fakeDirectory struct {
	mu    sync.Mutex
	rooms map[[2]string]string
	err   error
}

func (d *fakeDirectory) GetOrCreate(_ context.Context, userID, otherID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	if d.rooms == nil {
		d.rooms = make(map[[2]string]string)
	}
	for _, key := range [][2]string{{userID, otherID}, {otherID, userID}} {
		if id, ok := d.rooms[key]; ok {
			return id, nil
		}
	}
	id := fmt.Sprintf("room-%d", len(d.rooms)+1)
	d.rooms[[2]string{userID, otherID}] = id
	return id, nil
}

type fixture struct {
	engine    *chat.Engine
	server    *server.Server
	directory *fakeDirectory
	history   *storage.Memory
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, provider chat.IdentityProvider) *fixture {
	t.Helper()
	logger := zap.NewNop()
	history := storage.NewMemory()
	m := metrics.New("roomchat_test")
	engine := chat.NewEngine(chat.Options{
		Registry:   chat.NewRegistry(),
		Handshaker: chat.NewHandshaker(provider, "", time.Second, logger, m),
		Sink:       history,
		Config:     chat.Config{SendBuffer: 8, MaxMessageBytes: 1024},
		Logger:     logger,
		Recorder:   m,
	})
	m.TrackRegistry(engine.Registry())

	f := &fixture{
		engine:    engine,
		directory: &fakeDirectory{},
		history:   history,
		metrics:   m,
	}
	f.server = server.New(server.Options{
		Mode:   gin.TestMode,
		Engine: engine,
		Transport: ws.Config{
			PingInterval: time.Second,
			PongWait:     2 * time.Second,
			WriteTimeout: time.Second,
		},
		Identity:    provider,
		AuthTimeout: time.Second,
		Directory:   f.directory,
		History:     history,
		Metrics:     m,
		Logger:      logger,
	})
	return f
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t, tokenIsUser)

	w := f.do(http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_HealthzReportsFailure(t *testing.T) {
	srv := server.New(server.Options{
		Mode:     gin.TestMode,
		Engine: chat.NewEngine(chat.Options{
			Registry:   chat.NewRegistry(),
			Handshaker: chat.NewHandshaker(tokenIsUser, "", 0, zap.NewNop(), nil),
		}),
		Identity: tokenIsUser,
		Health:   func(context.Context) error { return errors.New("database down") },
	})
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database down")
}

func TestServer_GetOrCreateRoom(t *testing.T) {
	f := newFixture(t, tokenIsUser)

	first := f.do(http.MethodPost, "/room/get_or_create", "U1", `{"other_user_id":"U2"}`)
	second := f.do(http.MethodPost, "/room/get_or_create", "U2", `{"other_user_id":"U1"}`)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	var a, b struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.NotEmpty(t, a.RoomID)
	assert.Equal(t, a.RoomID, b.RoomID, "both orders resolve to the same room")
}

func TestServer_GetOrCreateRoomCookieToken(t *testing.T) {
	f := newFixture(t, tokenIsUser)
	req := httptest.NewRequest(http.MethodPost, "/room/get_or_create", strings.NewReader(`{"other_user_id":"U2"}`))
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "U1"})
	w := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_GetOrCreateRoomErrors(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		body   string
		dirErr error
		want   int
	}{
		{name: "missing token", body: `{"other_user_id":"U2"}`, want: http.StatusUnauthorized},
		{name: "invalid token", token: "bad", body: `{"other_user_id":"U2"}`, want: http.StatusUnauthorized},
		{name: "malformed body", token: "U1", body: `{`, want: http.StatusBadRequest},
		{name: "missing other user", token: "U1", body: `{}`, want: http.StatusBadRequest},
		{name: "self room", token: "U1", body: `{"other_user_id":"U1"}`, want: http.StatusBadRequest},
		{name: "storage failure", token: "U1", body: `{"other_user_id":"U2"}`, dirErr: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tokenIsUser)
			f.directory.err = tt.dirErr

			w := f.do(http.MethodPost, "/room/get_or_create", tt.token, tt.body)

			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestServer_IdentityUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockIdentityProvider(ctrl)
	provider.EXPECT().
		Verify(gomock.Any(), "U1").
		Return(chat.Identity{}, fmt.Errorf("%w: connection refused", identity.ErrUnavailable))
	f := newFixture(t, provider)

	w := f.do(http.MethodPost, "/room/get_or_create", "U1", `{"other_user_id":"U2"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_RoomHistory(t *testing.T) {
	f := newFixture(t, tokenIsUser)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		msg := chat.NewTextMessage("room-42", "U1", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, f.history.Append(context.Background(), msg))
	}

	w := f.do(http.MethodGet, "/chat/rooms/room-42/messages?limit=2", "U2", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		RoomID   string `json:"room_id"`
		Messages []struct {
			SenderID    string    `json:"sender_id"`
			Content     string    `json:"content"`
			MessageType string    `json:"message_type"`
			Timestamp   time.Time `json:"timestamp"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "room-42", resp.RoomID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].Content)
	assert.Equal(t, "m2", resp.Messages[1].Content)
	assert.Equal(t, chat.MessageTypeText, resp.Messages[1].MessageType)
}

func TestServer_RoomHistoryErrors(t *testing.T) {
	f := newFixture(t, tokenIsUser)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/chat/rooms/room-42/messages", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/chat/rooms/room-42/messages?limit=x", "U1", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/chat/rooms/room-42/messages?limit=0", "U1", "").Code)

	empty := f.do(http.MethodGet, "/chat/rooms/nobody/messages", "U1", "")
	assert.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `{"room_id":"nobody","messages":[]}`, empty.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, tokenIsUser)
	f.do(http.MethodGet, "/healthz", "", "")

	w := f.do(http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "roomchat_test_sessions_active")
}

func TestServer_StartServesChat(t *testing.T) {
	f := newFixture(t, tokenIsUser)
	f.server = server.New(server.Options{
		Addr:      "127.0.0.1:0",
		Mode:      gin.TestMode,
		Engine:    f.engine,
		Transport: ws.Config{PongWait: 2 * time.Second, WriteTimeout: time.Second},
		Identity:  tokenIsUser,
		Logger:    zap.NewNop(),
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- f.server.Start()
	}()
	require.Eventually(t, func() bool { return f.server.Addr() != "" }, time.Second, 5*time.Millisecond)

	url := "ws://" + f.server.Addr() + "/chat/ws/chat/room-42?token="
	ctx := context.Background()
	u1, _, err := websocket.Dial(ctx, url+"U1", nil)
	require.NoError(t, err)
	defer u1.CloseNow()
	u2, _, err := websocket.Dial(ctx, url+"U2", nil)
	require.NoError(t, err)
	defer u2.CloseNow()
	require.Eventually(t, func() bool {
		return f.engine.Registry().SessionCount() == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, u1.Write(ctx, websocket.MessageText, []byte("hello")))
	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, data, err := u2.Read(readCtx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	require.NoError(t, f.server.Stop(stopCtx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Error("Server did not stop in time")
	}
	assert.Zero(t, f.engine.Registry().SessionCount())
}
