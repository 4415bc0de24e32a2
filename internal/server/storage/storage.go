// Package storage is the loopback server's in-memory state: users, chats,
// memberships and messages.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
)

type chatRecord struct {
	chat     models.Chat
	members  []*models.Membership
	messages []*models.ChatMessage
}

func (r *chatRecord) member(userID string) *models.Membership {
	for _, m := range r.members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

type Store struct {
	mu       sync.RWMutex
	users    map[string]models.ChatUser
	chats    map[string]*chatRecord
	messages map[string]string // message id -> chat id
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]models.ChatUser),
		chats:    make(map[string]*chatRecord),
		messages: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// User Methods

func (s *Store) UpsertUser(u models.ChatUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// EnsureUser returns the user with id, registering it under its id as name
// when unknown.
func (s *Store) EnsureUser(id string) models.ChatUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	u := models.ChatUser{ID: id, Name: id}
	s.users[id] = u
	return u
}

func (s *Store) GetUser(id string) (models.ChatUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Chat Methods

// snapshot renders r for the wire with the latest message as its preview.
func (s *Store) snapshot(r *chatRecord) models.Chat {
	c := r.chat
	c.UserChats = make([]models.Membership, len(r.members))
	for i, m := range r.members {
		c.UserChats[i] = *m
		c.UserChats[i].User = s.users[m.UserID]
	}
	c.Messages = []models.ChatMessage{}
	if n := len(r.messages); n > 0 {
		c.Messages = append(c.Messages, *r.messages[n-1])
	}
	return c
}

func (s *Store) CreateChat(creatorID string, p models.CreateChatPayload) (models.Chat, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return models.Chat{}, fmt.Errorf("%w: chat name is required", ErrInvalid)
	}
	if p.Type != models.ChatPrivate && p.Type != models.ChatGroup {
		return models.Chat{}, fmt.Errorf("%w: unknown chat type %q", ErrInvalid, p.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	memberIDs := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range p.MemberIDs {
		if seen[id] {
			continue
		}
		if _, ok := s.users[id]; !ok {
			return models.Chat{}, fmt.Errorf("%w: unknown user %s", ErrNotFound, id)
		}
		seen[id] = true
		memberIDs = append(memberIDs, id)
	}
	if len(memberIDs) < 2 {
		return models.Chat{}, fmt.Errorf("%w: at least one other member is required", ErrInvalid)
	}
	if p.Type == models.ChatPrivate && len(memberIDs) != 2 {
		return models.Chat{}, fmt.Errorf("%w: private chats have exactly two members", ErrInvalid)
	}

	now := s.now()
	r := &chatRecord{chat: models.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      p.Type,
		Avatar:    p.Avatar,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	for _, id := range memberIDs {
		r.members = append(r.members, &models.Membership{ID: uuid.NewString(), UserID: id})
	}
	s.chats[r.chat.ID] = r
	return s.snapshot(r), nil
}

// UserChats lists userID's memberships, most recently updated first.
func (s *Store) UserChats(userID string) []models.UserChat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.UserChat{}
	for _, r := range s.chats {
		m := r.member(userID)
		if m == nil {
			continue
		}
		out = append(out, models.UserChat{
			ID:          m.ID,
			UserID:      userID,
			ChatID:      r.chat.ID,
			LastReadAt:  m.LastReadAt,
			UnreadCount: m.UnreadCount,
			Chat:        s.snapshot(r),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Chat.UpdatedAt.After(out[j].Chat.UpdatedAt)
	})
	return out
}

func (s *Store) chatFor(chatID, userID string) (*chatRecord, error) {
	r, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %w", ErrNotFound)
	}
	if r.member(userID) == nil {
		return nil, fmt.Errorf("%w: not a member of this chat", ErrForbidden)
	}
	return r, nil
}

func (s *Store) IsMember(chatID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.chatFor(chatID, userID)
	return err == nil
}

func (s *Store) MemberIDs(chatID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.UserID
	}
	return ids
}

// Message Methods

// Messages returns the chat history oldest first and marks it read for
// userID.
func (s *Store) Messages(chatID, userID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.chatFor(chatID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	m := r.member(userID)
	m.UnreadCount = 0
	m.LastReadAt = &now

	out := make([]models.ChatMessage, len(r.messages))
	for i, msg := range r.messages {
		out[i] = *msg
		out[i].Read = true
	}
	return out, nil
}

func (s *Store) SaveMessage(chatID, senderID, content string) (models.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: message content is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.chatFor(chatID, senderID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		Content:   content,
		ChatID:    chatID,
		SenderID:  senderID,
		Timestamp: s.now(),
		User:      s.users[senderID],
	}
	r.messages = append(r.messages, msg)
	r.chat.UpdatedAt = msg.Timestamp
	s.messages[msg.ID] = chatID
	for _, m := range r.members {
		if m.UserID != senderID {
			m.UnreadCount++
		}
	}
	return *msg, nil
}

func (s *Store) ownMessage(messageID, userID string) (*chatRecord, int, error) {
	chatID, ok := s.messages[messageID]
	if !ok {
		return nil, 0, fmt.Errorf("message %w", ErrNotFound)
	}
	r := s.chats[chatID]
	for i, msg := range r.messages {
		if msg.ID != messageID {
			continue
		}
		if msg.SenderID != userID {
			return nil, 0, fmt.Errorf("%w: only the sender can change a message", ErrForbidden)
		}
		return r, i, nil
	}
	return nil, 0, fmt.Errorf("message %w", ErrNotFound)
}

func (s *Store) UpdateMessage(messageID, userID, content string) (models.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: message content is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, i, err := s.ownMessage(messageID, userID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	r.messages[i].Content = content
	return *r.messages[i], nil
}

func (s *Store) DeleteMessage(messageID, userID string) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, i, err := s.ownMessage(messageID, userID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg := *r.messages[i]
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	delete(s.messages, messageID)
	return msg, nil
}

func (s *Store) UnreadCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.chats {
		if m := r.member(userID); m != nil {
			total += m.UnreadCount
		}
	}
	return total
}
