// Package chatsync turns user intents into requests over the socket and
// applies server push events to the chat store.
//
// Mutating requests (send, create, edit, delete) never write to the store from
// their ack. State converges only through the matching push event, so a change
// is visible once it has round-tripped back to this client.
package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/cloudzz-dev/cldzchat/internal/client/chatstore"
	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/client/socket"
	"go.uber.org/zap"
)

var ErrBlankInput = errors.New("chatsync: blank input")

// Conn is the part of socket.Manager the sync layer needs.
type Conn interface {
	Request(ctx context.Context, event string, payload any) (socket.Ack, error)
	On(event string, h socket.Handler) (off func())
	OnStatus(fn func(socket.Status)) (off func())
	UserID() string
}

// Notifier surfaces transient user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Success(msg string) { n.Log.Info(msg) }
func (n LogNotifier) Error(msg string)   { n.Log.Warn(msg) }

type Option func(*Syncer)

func WithNotifier(n Notifier) Option {
	return func(s *Syncer) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) { s.log = l.Named("chatsync") }
}

type Syncer struct {
	conn     Conn
	store    *chatstore.Store
	notifier Notifier
	log      *zap.Logger

	mu             sync.Mutex
	lastGeneration uint64
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func New(conn Conn, store *chatstore.Store, opts ...Option) *Syncer {
	s := &Syncer{
		conn:  conn,
		store: store,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Log: s.log}
	}
	return s
}

// Start subscribes to push events and connection transitions. The returned
// stop function unsubscribes and waits for in-flight connect work.
func (s *Syncer) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()

	offs := []func(){
		s.conn.On(models.EventNewMessage, s.handleNewMessage),
		s.conn.On(models.EventMessageUpdated, s.handleMessageUpdated),
		s.conn.On(models.EventMessageDeleted, s.handleMessageDeleted),
		s.conn.On(models.EventNewChat, s.handleNewChat),
		s.conn.OnStatus(s.handleStatus),
	}

	return func() {
		for _, off := range offs {
			off()
		}
		cancel()
		s.wg.Wait()
	}
}

// handleStatus fetches chats, the active chat's history and the unread
// count once per connection, and rejoins the active chat's room.
func (s *Syncer) handleStatus(st socket.Status) {
	if !st.Connected || st.UserID == "" {
		return
	}

	s.mu.Lock()
	if st.Generation == s.lastGeneration {
		s.mu.Unlock()
		return
	}
	s.lastGeneration = st.Generation
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.FetchChats(ctx)
		// A restored or previously open chat has no messages and no room
		// on the new connection.
		if active := s.store.ActiveChat(); active != nil {
			s.FetchMessages(ctx, active.ID)
			s.JoinChat(ctx, active.ID)
		}
		s.UnreadCount(ctx)
	}()
}

// fail turns err into a notification. Fetch failures also set the sticky
// store error.
func (s *Syncer) fail(err error, fallback string, sticky bool) {
	msg := fallback
	var ackErr *socket.AckError
	if errors.As(err, &ackErr) && ackErr.Message != "" {
		msg = ackErr.Message
	}
	if sticky {
		s.store.SetError(msg)
	}
	s.notifier.Error(msg)
	s.log.Warn(fallback, zap.Error(err))
}

func (s *Syncer) FetchChats(ctx context.Context) error {
	userID := s.conn.UserID()
	if userID == "" {
		return socket.ErrNotConnected
	}

	s.store.SetLoading(true)
	ack, err := s.conn.Request(ctx, models.EventGetUserChat, models.GetUserChatPayload{UserID: userID})
	s.store.SetLoading(false)
	if err == nil {
		var res models.ChatsResult
		if err = ack.Decode(&res); err == nil {
			s.store.SetChats(res.Chats)
			return nil
		}
	}
	s.fail(err, "Failed to fetch chats", true)
	return err
}

func (s *Syncer) SendMessage(ctx context.Context, content, chatID string) error {
	if strings.TrimSpace(content) == "" || chatID == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	_, err := s.conn.Request(ctx, models.EventSendMessage, models.SendMessagePayload{Content: content, ChatID: chatID})
	if err != nil {
		s.fail(err, "Failed to send message", false)
		return err
	}
	return nil
}

func (s *Syncer) CreateChat(ctx context.Context, name string, typ models.ChatType, memberIDs []string, avatar string) error {
	if strings.TrimSpace(name) == "" || len(memberIDs) == 0 {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	payload := models.CreateChatPayload{Name: name, Type: typ, MemberIDs: memberIDs, Avatar: avatar}
	if _, err := s.conn.Request(ctx, models.EventCreateChat, payload); err != nil {
		s.fail(err, "Failed to create chat", false)
		return err
	}
	s.notifier.Success("Chat created successfully")
	return nil
}

func (s *Syncer) FetchMessages(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}

	s.store.SetLoading(true)
	ack, err := s.conn.Request(ctx, models.EventGetChatMessages, models.ChatIDPayload{ChatID: chatID})
	s.store.SetLoading(false)
	if err == nil {
		var res models.MessagesResult
		if err = ack.Decode(&res); err == nil {
			s.store.SetMessages(res.Messages)
			return nil
		}
	}
	s.fail(err, "Failed to fetch messages", true)
	return err
}

func (s *Syncer) JoinChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	if _, err := s.conn.Request(ctx, models.EventJoinChat, models.ChatIDPayload{ChatID: chatID}); err != nil {
		s.fail(err, "Failed to join chat", false)
		return err
	}
	s.log.Info("joined chat room", zap.String("chat_id", chatID))
	return nil
}

func (s *Syncer) LeaveChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	if _, err := s.conn.Request(ctx, models.EventLeaveChat, models.ChatIDPayload{ChatID: chatID}); err != nil {
		s.fail(err, "Failed to leave chat", false)
		return err
	}
	s.log.Info("left chat room", zap.String("chat_id", chatID))
	return nil
}

func (s *Syncer) EditMessage(ctx context.Context, messageID, content string) error {
	if messageID == "" || strings.TrimSpace(content) == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	payload := models.UpdateMessagePayload{MessageID: messageID, Content: content}
	if _, err := s.conn.Request(ctx, models.EventUpdateMessage, payload); err != nil {
		s.fail(err, "Failed to update message", false)
		return err
	}
	s.notifier.Success("Message updated")
	return nil
}

func (s *Syncer) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return ErrBlankInput
	}
	if s.conn.UserID() == "" {
		return socket.ErrNotConnected
	}
	if _, err := s.conn.Request(ctx, models.EventDeleteMessage, models.MessageIDPayload{MessageID: messageID}); err != nil {
		s.fail(err, "Failed to delete message", false)
		return err
	}
	s.notifier.Success("Message deleted")
	return nil
}

// UnreadCount asks for the viewer's total unread count. Failures are only
// logged.
func (s *Syncer) UnreadCount(ctx context.Context) (int, error) {
	if s.conn.UserID() == "" {
		return 0, socket.ErrNotConnected
	}
	ack, err := s.conn.Request(ctx, models.EventGetUnreadCount, struct{}{})
	if err != nil {
		s.log.Warn("failed to get unread count", zap.Error(err))
		return 0, err
	}
	var res models.UnreadResult
	if err := ack.Decode(&res); err != nil {
		s.log.Warn("failed to get unread count", zap.Error(err))
		return 0, err
	}
	s.log.Info("unread count", zap.Int("total_unread", res.TotalUnread))
	return res.TotalUnread, nil
}

// SelectChat makes chat active, then fetches its history and joins its room.
// Selecting the already active chat does nothing. The previously active room
// is not left.
func (s *Syncer) SelectChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		s.store.SetActiveChat(nil)
		return nil
	}
	if active := s.store.ActiveChat(); active != nil && active.ID == chat.ID {
		return nil
	}

	s.store.SetActiveChat(chat)
	return errors.Join(
		s.FetchMessages(ctx, chat.ID),
		s.JoinChat(ctx, chat.ID),
	)
}

func (s *Syncer) decode(event string, payload json.RawMessage, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		s.log.Warn("malformed push event", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

func (s *Syncer) handleNewMessage(payload json.RawMessage) {
	var ev models.MessageEvent
	if !s.decode(models.EventNewMessage, payload, &ev) {
		return
	}
	if ev.Message.ChatID == "" {
		ev.Message.ChatID = ev.ChatID
	}
	s.store.AddMessage(ev.Message)
}

func (s *Syncer) handleMessageUpdated(payload json.RawMessage) {
	var ev models.MessageEvent
	if !s.decode(models.EventMessageUpdated, payload, &ev) {
		return
	}
	s.store.UpdateMessage(ev.Message.ID, ev.Message.Content)
}

func (s *Syncer) handleMessageDeleted(payload json.RawMessage) {
	var ev models.MessageDeletedEvent
	if !s.decode(models.EventMessageDeleted, payload, &ev) {
		return
	}
	s.store.DeleteMessage(ev.MessageID)
}

// handleNewChat adds a provisional entry for a chat the server announced.
func (s *Syncer) handleNewChat(payload json.RawMessage) {
	var ev models.NewChatEvent
	if !s.decode(models.EventNewChat, payload, &ev) {
		return
	}
	if ev.Chat.ID == "" {
		s.log.Warn("new-chat without chat id")
		return
	}
	s.store.AddChat(models.UserChat{
		ID:          models.NewProvisionalID("uc"),
		UserID:      s.conn.UserID(),
		ChatID:      ev.Chat.ID,
		UnreadCount: 0,
		Chat:        ev.Chat,
		Provisional: true,
	})
}
