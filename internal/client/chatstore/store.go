// Package chatstore holds the client's view of chats, the active chat and the
// active message list. Chats and the active chat survive restarts through a
// Persister; messages and transient flags never do.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"go.uber.org/zap"
)

const (
	DefaultKey  = "chat-store"
	saveTimeout = 5 * time.Second
)

var ErrNotFound = errors.New("chatstore: persisted state not found")

// Persister loads and saves the persisted slice of the store under a key.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

type State struct {
	Chats      []models.UserChat
	ActiveChat *models.Chat
	Messages   []models.ChatMessage
	Loading    bool
	// Error is the sticky error of the last failed fetch; "" means none.
	Error string
}

type persisted struct {
	Chats      []models.UserChat `json:"chats"`
	ActiveChat *models.Chat      `json:"activeChat"`
}

type Option func(*Store)

func WithPersister(p Persister, key string) Option {
	return func(s *Store) {
		s.persister = p
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l.Named("chatstore") }
}

type Store struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	state  State

	key       string
	persister Persister
	log       *zap.Logger

	subMu  sync.Mutex
	nextID uint64
	subs   map[uint64]func()
}

func New(opts ...Option) *Store {
	s := &Store{
		key:  DefaultKey,
		log:  zap.NewNop(),
		subs: make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads persisted chats and active chat. Missing state is not an error.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := s.persister.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", s.key, err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode %s: %w", s.key, err)
	}

	s.mutate(false, func(st *State) {
		st.Chats = p.Chats
		st.ActiveChat = p.ActiveChat
	})
	return nil
}

// Subscribe registers fn to run after every mutation.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// mutate applies fn under the write lock, then persists the chats and active
// chat when persist is set. Saves are ordered like the mutations.
func (s *Store) mutate(persist bool, fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)

	var data []byte
	if persist && s.persister != nil {
		var err error
		data, err = json.Marshal(persisted{Chats: s.state.Chats, ActiveChat: s.state.ActiveChat})
		if err != nil {
			s.log.Error("encode persisted state", zap.Error(err))
			data = nil
		}
	}
	if data != nil {
		s.saveMu.Lock()
	}
	s.mu.Unlock()

	if data != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.persister.Save(ctx, s.key, data); err != nil {
			s.log.Warn("persist chat store", zap.String("key", s.key), zap.Error(err))
		}
		cancel()
		s.saveMu.Unlock()
	}
	s.notify()
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := State{
		Chats:    make([]models.UserChat, len(s.state.Chats)),
		Messages: append([]models.ChatMessage(nil), s.state.Messages...),
		Loading:  s.state.Loading,
		Error:    s.state.Error,
	}
	for i, uc := range s.state.Chats {
		out.Chats[i] = uc.Clone()
	}
	if s.state.ActiveChat != nil {
		c := s.state.ActiveChat.Clone()
		out.ActiveChat = &c
	}
	return out
}

func (s *Store) ActiveChat() *models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ActiveChat == nil {
		return nil
	}
	c := s.state.ActiveChat.Clone()
	return &c
}

func (s *Store) SetChats(chats []models.UserChat) {
	cp := make([]models.UserChat, len(chats))
	for i, uc := range chats {
		cp[i] = uc.Clone()
	}
	s.mutate(true, func(st *State) { st.Chats = cp })
}

// SetActiveChat sets the viewed chat; nil clears the selection.
func (s *Store) SetActiveChat(chat *models.Chat) {
	var cp *models.Chat
	if chat != nil {
		c := chat.Clone()
		cp = &c
	}
	s.mutate(true, func(st *State) { st.ActiveChat = cp })
}

func (s *Store) SetMessages(messages []models.ChatMessage) {
	cp := append([]models.ChatMessage(nil), messages...)
	s.mutate(false, func(st *State) { st.Messages = cp })
}

// AddMessage appends msg and replaces the latest-message cache of its chat,
// both in the chats list and on the active chat. The chats list is never
// reordered.
func (s *Store) AddMessage(msg models.ChatMessage) {
	s.mutate(true, func(st *State) {
		st.Messages = append(st.Messages, msg)

		for i := range st.Chats {
			if st.Chats[i].ChatID != msg.ChatID {
				continue
			}
			st.Chats[i].Chat.Messages = []models.ChatMessage{msg}
			st.Chats[i].Chat.UpdatedAt = msg.Timestamp
		}

		if st.ActiveChat != nil && st.ActiveChat.ID == msg.ChatID {
			active := st.ActiveChat.Clone()
			active.Messages = []models.ChatMessage{msg}
			active.UpdatedAt = msg.Timestamp
			st.ActiveChat = &active
		}
	})
}

// UpdateMessage replaces the content of message id in the message list and in
// the active chat. Unknown ids are ignored.
func (s *Store) UpdateMessage(id, content string) {
	s.mutate(true, func(st *State) {
		for i := range st.Messages {
			if st.Messages[i].ID == id {
				st.Messages[i].Content = content
			}
		}
		if st.ActiveChat != nil {
			active := st.ActiveChat.Clone()
			for i := range active.Messages {
				if active.Messages[i].ID == id {
					active.Messages[i].Content = content
				}
			}
			st.ActiveChat = &active
		}
	})
}

// DeleteMessage removes message id from the message list and the active chat.
// Unknown ids are ignored.
func (s *Store) DeleteMessage(id string) {
	s.mutate(true, func(st *State) {
		st.Messages = withoutMessage(st.Messages, id)
		if st.ActiveChat != nil {
			active := st.ActiveChat.Clone()
			active.Messages = withoutMessage(active.Messages, id)
			st.ActiveChat = &active
		}
	})
}

func withoutMessage(msgs []models.ChatMessage, id string) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// AddChat prepends uc to the chats list.
func (s *Store) AddChat(uc models.UserChat) {
	uc = uc.Clone()
	s.mutate(true, func(st *State) {
		st.Chats = append([]models.UserChat{uc}, st.Chats...)
	})
}

// UpdateChat merges patch into every entry for chatID and into the active
// chat when it matches.
func (s *Store) UpdateChat(chatID string, patch models.ChatPatch) {
	s.mutate(true, func(st *State) {
		for i := range st.Chats {
			if st.Chats[i].ChatID == chatID {
				st.Chats[i].Chat = patch.Apply(st.Chats[i].Chat.Clone())
			}
		}
		if st.ActiveChat != nil && st.ActiveChat.ID == chatID {
			active := patch.Apply(st.ActiveChat.Clone())
			st.ActiveChat = &active
		}
	})
}

func (s *Store) SetLoading(loading bool) {
	s.mutate(false, func(st *State) { st.Loading = loading })
}

func (s *Store) SetError(msg string) {
	s.mutate(false, func(st *State) { st.Error = msg })
}

func (s *Store) ClearError() {
	s.SetError("")
}

// Reset clears all state. Used when the session ends.
func (s *Store) Reset() {
	s.mutate(true, func(st *State) { *st = State{} })
}
