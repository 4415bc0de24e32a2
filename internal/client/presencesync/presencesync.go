// Package presencesync keeps the presence store in step with the server's
// connected-users broadcasts and owns the connect/disconnect lifecycle of a
// session.
package presencesync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/client/presence"
	"github.com/cloudzz-dev/cldzchat/internal/client/socket"
	"go.uber.org/zap"
)

// Conn is the part of socket.Manager presence needs.
type Conn interface {
	Connect(ctx context.Context, userID string) error
	Disconnect() error
	IsConnected() bool
	UserID() string
	On(event string, h socket.Handler) (off func())
	OnStatus(fn func(socket.Status)) (off func())
}

type Syncer struct {
	conn  Conn
	store *presence.Store
	log   *zap.Logger
}

func New(conn Conn, store *presence.Store, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{conn: conn, store: store, log: log.Named("presence")}
}

// Start subscribes to the presence events. Both full-list broadcasts replace
// the store; single-user notices are informational.
func (s *Syncer) Start() (stop func()) {
	offs := []func(){
		s.conn.On(models.EventConnectedUsers, s.handleFullList),
		s.conn.On(models.EventUpdateConnectedUsers, s.handleFullList),
		s.conn.On(models.EventUserConnected, s.handleNotice(models.EventUserConnected)),
		s.conn.On(models.EventUserDisconnected, s.handleNotice(models.EventUserDisconnected)),
		s.conn.OnStatus(s.handleStatus),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (s *Syncer) handleFullList(payload json.RawMessage) {
	var ev models.ConnectedUsersEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn("malformed connected users event", zap.Error(err))
		return
	}
	s.store.SetConnectedUserIDs(ev.UserIDs)
}

func (s *Syncer) handleNotice(event string) socket.Handler {
	return func(payload json.RawMessage) {
		var ev models.UserPresenceEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Warn("malformed presence notice", zap.String("event", event), zap.Error(err))
			return
		}
		s.log.Debug(event, zap.String("user_id", ev.User.ID), zap.String("user_name", ev.User.Name))
	}
}

// handleStatus clears presence when a connection ends so the next one starts
// from the server's connected-users broadcast.
func (s *Syncer) handleStatus(st socket.Status) {
	if !st.Connected {
		s.store.Reset()
	}
}

// SessionHandler ties the connection to the signed-in identity.
type SessionHandler struct {
	conn Conn
	log  *zap.Logger

	mu       sync.Mutex
	closed   bool
	current  string
	onChange func()
}

func NewSessionHandler(conn Conn, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{conn: conn, log: log.Named("session")}
}

// OnIdentityChange registers fn to run when the current identity is replaced
// or cleared, before the next identity connects.
func (h *SessionHandler) OnIdentityChange(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// SetIdentity connects for a non-empty userID unless that identity is
// already connected. A different identity is disconnected first. An empty
// userID disconnects.
func (h *SessionHandler) SetIdentity(ctx context.Context, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	if h.conn.IsConnected() {
		if userID != "" && h.conn.UserID() == userID {
			return nil
		}
		h.log.Info("ending session", zap.String("user_id", h.conn.UserID()))
		if err := h.conn.Disconnect(); err != nil {
			return err
		}
	}
	if h.current != "" && h.current != userID {
		h.current = ""
		if h.onChange != nil {
			h.onChange()
		}
	}
	if userID == "" {
		return nil
	}

	h.log.Info("starting session", zap.String("user_id", userID))
	if err := h.conn.Connect(ctx, userID); err != nil {
		return err
	}
	h.current = userID
	return nil
}

// Close disconnects once. Later SetIdentity calls are ignored.
func (h *SessionHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if !h.conn.IsConnected() {
		return nil
	}
	return h.conn.Disconnect()
}
