package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/chatstore"
	"github.com/cloudzz-dev/cldzchat/internal/client/chatsync"
	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/client/presence"
	"github.com/cloudzz-dev/cldzchat/internal/client/presencesync"
	"github.com/cloudzz-dev/cldzchat/internal/client/socket"
	"github.com/cloudzz-dev/cldzchat/internal/server/handlers"
	"github.com/cloudzz-dev/cldzchat/internal/server/ratelimit"
	"github.com/cloudzz-dev/cldzchat/internal/server/storage"
	"github.com/cloudzz-dev/cldzchat/internal/server/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

func newServer(t *testing.T, maxConns int) (*ws.Hub, string) {
	t.Helper()
	store := storage.New()
	store.UpsertUser(models.ChatUser{ID: "u1", Name: "alice"})
	store.UpsertUser(models.ChatUser{ID: "u2", Name: "bob"})
	limiter := ratelimit.New(maxConns, 0)
	t.Cleanup(limiter.Close)
	// Pumps log after the test body returns, so the hub gets a logger that
	// outlives the test.
	hub := ws.NewHub(store, limiter, zap.NewNop())
	t.Cleanup(func() {
		assert.Eventually(t, func() bool { return len(hub.ConnectedUserIDs()) == 0 }, waitFor, 10*time.Millisecond)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthCheck)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleWebSocket(hub, w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv.URL
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func TestHealthCheck(t *testing.T) {
	_, base := newServer(t, 0)
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandshakeRejections(t *testing.T) {
	hub, base := newServer(t, 1)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base)+"?userId=u1", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.IsConnected("u1") }, waitFor, 10*time.Millisecond)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(base)+"?userId=u2", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestDuplicateIdentityConflict(t *testing.T) {
	hub, base := newServer(t, 0)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base)+"?userId=u1", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.IsConnected("u1") }, waitFor, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(base)+"?userId=u1", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

type device struct {
	mgr      *socket.Manager
	store    *chatstore.Store
	presence *presence.Store
	sync     *chatsync.Syncer
}

func connect(t *testing.T, base, userID string) *device {
	t.Helper()
	log := zap.NewNop()
	mgr := socket.New(wsURL(base), socket.WithLogger(log), socket.WithRequestTimeout(time.Second))
	d := &device{
		mgr:      mgr,
		store:    chatstore.New(chatstore.WithLogger(log)),
		presence: presence.NewStore(),
	}
	d.sync = chatsync.New(mgr, d.store, chatsync.WithLogger(log))
	t.Cleanup(d.sync.Start())
	t.Cleanup(presencesync.New(mgr, d.presence, log).Start())

	session := presencesync.NewSessionHandler(mgr, log)
	require.NoError(t, session.SetIdentity(context.Background(), userID))
	t.Cleanup(func() { session.Close() })
	return d
}

func findChat(s *chatstore.Store, name string) (models.Chat, bool) {
	for _, uc := range s.Snapshot().Chats {
		if uc.Chat.Name == name {
			return uc.Chat, true
		}
	}
	return models.Chat{}, false
}

func TestClientRoundTrip(t *testing.T) {
	_, base := newServer(t, 0)
	ctx := context.Background()

	alice := connect(t, base, "u1")
	bob := connect(t, base, "u2")

	require.Eventually(t, func() bool {
		return alice.presence.IsOnline("u2") && bob.presence.IsOnline("u1")
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.sync.CreateChat(ctx, "Team", models.ChatGroup, []string{"u2"}, ""))
	var chat, aliceChat models.Chat
	require.Eventually(t, func() bool {
		var okBob, okAlice bool
		chat, okBob = findChat(bob.store, "Team")
		aliceChat, okAlice = findChat(alice.store, "Team")
		return okBob && okAlice
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, bob.sync.SelectChat(ctx, &chat))
	require.NoError(t, alice.sync.SelectChat(ctx, &aliceChat))
	require.NoError(t, alice.sync.SendMessage(ctx, "hello bob", chat.ID))

	require.Eventually(t, func() bool {
		msgs := bob.store.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Content == "hello bob"
	}, waitFor, 10*time.Millisecond)

	msgID := bob.store.Snapshot().Messages[0].ID
	err := bob.sync.EditMessage(ctx, msgID, "hijack")
	var ackErr *socket.AckError
	require.ErrorAs(t, err, &ackErr)

	require.NoError(t, alice.sync.EditMessage(ctx, msgID, "hello, bob"))
	require.Eventually(t, func() bool {
		msgs := bob.store.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Content == "hello, bob"
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.sync.DeleteMessage(ctx, msgID))
	require.Eventually(t, func() bool {
		return len(bob.store.Snapshot().Messages) == 0
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.sync.FetchChats(ctx))
	chats := alice.store.Snapshot().Chats
	require.Len(t, chats, 1)
	assert.False(t, models.IsProvisional(chats[0].ID))
}
