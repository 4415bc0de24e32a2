package ws

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/server/ratelimit"
	"github.com/cloudzz-dev/cldzchat/internal/server/storage"
	"go.uber.org/zap"
)

var ErrDuplicateIdentity = errors.New("identity already connected")

// Hub tracks one live client per identity and the chat rooms they joined.
type Hub struct {
	Store   *storage.Store
	Limiter *ratelimit.RateLimiter
	Log     *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]bool // chat id -> user ids
}

func NewHub(store *storage.Store, limiter *ratelimit.RateLimiter, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		Store:   store,
		Limiter: limiter,
		Log:     log,
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]bool),
	}
}

// Register adds c and announces it. A second connection for the same
// identity is refused.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if _, ok := h.clients[c.UserID]; ok {
		h.mu.Unlock()
		return ErrDuplicateIdentity
	}
	h.clients[c.UserID] = c
	h.mu.Unlock()

	user := h.Store.EnsureUser(c.UserID)
	h.Log.Info("client registered", zap.String("user_id", c.UserID))

	online := h.ConnectedUserIDs()
	c.SendPush(models.EventConnectedUsers, models.ConnectedUsersEvent{UserIDs: online})
	h.SendToAll(models.EventUpdateConnectedUsers, models.ConnectedUsersEvent{UserIDs: online})
	h.sendToOthers(c.UserID, models.EventUserConnected, models.UserPresenceEvent{User: user})
	return nil
}

// Unregister removes c and announces the departure. Unknown clients are
// ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.UserID] != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.UserID)
	close(c.send)
	for chatID, members := range h.rooms {
		delete(members, c.UserID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	h.mu.Unlock()

	h.Log.Info("client unregistered", zap.String("user_id", c.UserID))
	user, _ := h.Store.GetUser(c.UserID)
	h.SendToAll(models.EventUpdateConnectedUsers, models.ConnectedUsersEvent{UserIDs: h.ConnectedUserIDs()})
	h.SendToAll(models.EventUserDisconnected, models.UserPresenceEvent{User: user})
}

func (h *Hub) ConnectedUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) Join(chatID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]bool)
	}
	h.rooms[chatID][userID] = true
}

func (h *Hub) Leave(chatID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[chatID], userID)
	if len(h.rooms[chatID]) == 0 {
		delete(h.rooms, chatID)
	}
}

func (h *Hub) InRoom(chatID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[chatID][userID]
}

func encodePush(event string, payload any) []byte {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(models.Frame{Type: event, Payload: data})
	return frame
}

// deliver queues frame for c if it is still registered. Clients whose buffer
// is full are dropped.
func (h *Hub) deliver(c *Client, frame []byte) {
	h.mu.RLock()
	if h.clients[c.UserID] != c {
		h.mu.RUnlock()
		return
	}
	select {
	case c.send <- frame:
		h.mu.RUnlock()
	default:
		h.mu.RUnlock()
		h.Log.Warn("dropping slow client", zap.String("user_id", c.UserID))
		h.Unregister(c)
	}
}

// SendTo pushes event to the connected clients among userIDs.
func (h *Hub) SendTo(userIDs []string, event string, payload any) {
	frame := encodePush(event, payload)
	for _, id := range userIDs {
		h.mu.RLock()
		c := h.clients[id]
		h.mu.RUnlock()
		if c != nil {
			h.deliver(c, frame)
		}
	}
}

func (h *Hub) SendToAll(event string, payload any) {
	h.SendTo(h.ConnectedUserIDs(), event, payload)
}

func (h *Hub) sendToOthers(userID, event string, payload any) {
	var ids []string
	for _, id := range h.ConnectedUserIDs() {
		if id != userID {
			ids = append(ids, id)
		}
	}
	h.SendTo(ids, event, payload)
}
