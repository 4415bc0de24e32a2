package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/server/ratelimit"
	"github.com/cloudzz-dev/cldzchat/internal/server/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, maxRequests int) (*Hub, string) {
	t.Helper()
	store := storage.New()
	store.UpsertUser(models.ChatUser{ID: "u1", Name: "alice"})
	store.UpsertUser(models.ChatUser{ID: "u2", Name: "bob"})
	limiter := ratelimit.New(0, maxRequests)
	t.Cleanup(limiter.Close)
	hub := NewHub(store, limiter, zap.NewNop())

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(hub, conn, r.URL.Query().Get("userId"), "")
		if err := hub.Register(c); err != nil {
			conn.Close()
			return
		}
		go c.WritePump()
		go c.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, base, userID string) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?userId="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) request(id, event string, payload any) {
	p.t.Helper()
	data, _ := json.Marshal(payload)
	out, _ := json.Marshal(models.Frame{Type: event, ID: id, Payload: data})
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, out))
}

// next reads frames until one of type event arrives.
func (p *peer) next(event string) models.Frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := p.conn.ReadMessage()
		require.NoError(p.t, err)
		var f models.Frame
		require.NoError(p.t, json.Unmarshal(data, &f))
		if f.Type == event {
			return f
		}
	}
}

func (p *peer) ack(id string) map[string]any {
	p.t.Helper()
	for {
		f := p.next(models.EventAck)
		if f.ID != id {
			continue
		}
		var body map[string]any
		require.NoError(p.t, json.Unmarshal(f.Payload, &body))
		return body
	}
}

func TestPresenceOnRegister(t *testing.T) {
	hub, base := newTestServer(t, 0)

	alice := dial(t, base, "u1")
	var ev models.ConnectedUsersEvent
	require.NoError(t, json.Unmarshal(alice.next(models.EventConnectedUsers).Payload, &ev))
	assert.Equal(t, []string{"u1"}, ev.UserIDs)

	dial(t, base, "u2")
	for len(ev.UserIDs) < 2 {
		require.NoError(t, json.Unmarshal(alice.next(models.EventUpdateConnectedUsers).Payload, &ev))
	}
	assert.Equal(t, []string{"u1", "u2"}, ev.UserIDs)

	var joined models.UserPresenceEvent
	require.NoError(t, json.Unmarshal(alice.next(models.EventUserConnected).Payload, &joined))
	assert.Equal(t, "bob", joined.User.Name)
	assert.True(t, hub.IsConnected("u2"))
}

func TestDuplicateIdentityRefused(t *testing.T) {
	hub, _ := newTestServer(t, 0)
	first := &Client{Hub: hub, UserID: "u1", send: make(chan []byte, sendBuffer)}
	require.NoError(t, hub.Register(first))

	second := &Client{Hub: hub, UserID: "u1", send: make(chan []byte, sendBuffer)}
	assert.ErrorIs(t, hub.Register(second), ErrDuplicateIdentity)

	hub.Unregister(second)
	assert.True(t, hub.IsConnected("u1"))
	hub.Unregister(first)
	assert.False(t, hub.IsConnected("u1"))
}

func TestChatLifecycle(t *testing.T) {
	hub, base := newTestServer(t, 0)
	alice := dial(t, base, "u1")
	bob := dial(t, base, "u2")

	alice.request("1", models.EventCreateChat, models.CreateChatPayload{Name: "Team", Type: models.ChatGroup, MemberIDs: []string{"u2"}})
	body := alice.ack("1")
	require.Equal(t, true, body["success"])

	var created models.NewChatEvent
	require.NoError(t, json.Unmarshal(bob.next(models.EventNewChat).Payload, &created))
	assert.Equal(t, "Team", created.Chat.Name)
	chatID := created.Chat.ID

	alice.request("2", models.EventJoinChat, models.ChatIDPayload{ChatID: chatID})
	assert.Equal(t, true, alice.ack("2")["success"])
	assert.True(t, hub.InRoom(chatID, "u1"))

	alice.request("3", models.EventSendMessage, models.SendMessagePayload{ChatID: chatID, Content: "hi"})
	assert.Equal(t, true, alice.ack("3")["success"])

	var msg models.MessageEvent
	require.NoError(t, json.Unmarshal(bob.next(models.EventNewMessage).Payload, &msg))
	assert.Equal(t, "hi", msg.Message.Content)
	assert.Equal(t, chatID, msg.ChatID)

	bob.request("4", models.EventGetUnreadCount, nil)
	assert.Equal(t, float64(1), bob.ack("4")["totalUnread"])

	bob.request("5", models.EventUpdateMessage, models.UpdateMessagePayload{MessageID: msg.Message.ID, Content: "nope"})
	body = bob.ack("5")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "forbidden: only the sender can change a message", body["error"])

	alice.request("6", models.EventDeleteMessage, models.MessageIDPayload{MessageID: msg.Message.ID})
	assert.Equal(t, true, alice.ack("6")["success"])
	var deleted models.MessageDeletedEvent
	require.NoError(t, json.Unmarshal(bob.next(models.EventMessageDeleted).Payload, &deleted))
	assert.Equal(t, msg.Message.ID, deleted.MessageID)

	alice.request("7", models.EventLeaveChat, models.ChatIDPayload{ChatID: chatID})
	assert.Equal(t, true, alice.ack("7")["success"])
	assert.False(t, hub.InRoom(chatID, "u1"))
}

func TestRequestErrors(t *testing.T) {
	_, base := newTestServer(t, 0)
	alice := dial(t, base, "u1")

	alice.request("1", models.EventGetUserChat, models.GetUserChatPayload{UserID: "u2"})
	assert.Equal(t, false, alice.ack("1")["success"])

	alice.request("2", "no-such-event", nil)
	body := alice.ack("2")
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "no-such-event")

	alice.request("3", models.EventJoinChat, models.ChatIDPayload{ChatID: "missing"})
	assert.Equal(t, false, alice.ack("3")["success"])
}

func TestRequestBudget(t *testing.T) {
	_, base := newTestServer(t, 1)
	alice := dial(t, base, "u1")

	alice.request("1", models.EventGetUnreadCount, nil)
	assert.Equal(t, true, alice.ack("1")["success"])
	alice.request("2", models.EventGetUnreadCount, nil)
	body := alice.ack("2")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, errRateLimited.Error(), body["error"])
}

func TestSlowClientDropped(t *testing.T) {
	hub, _ := newTestServer(t, 0)
	c := &Client{Hub: hub, UserID: "u1", send: make(chan []byte, 1)}
	require.NoError(t, hub.Register(c))

	// connected-users fills the buffer, the broadcast that follows overflows it.
	assert.False(t, hub.IsConnected("u1"))
	_, open := <-c.send
	assert.True(t, open)
	_, open = <-c.send
	assert.False(t, open)
}
