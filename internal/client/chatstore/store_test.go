package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
	err   error
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (p *memPersister) Load(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (p *memPersister) Save(_ context.Context, key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.err != nil {
		return p.err
	}
	p.data[key] = append([]byte(nil), data...)
	return nil
}

func userChat(chatID, name string) models.UserChat {
	return models.UserChat{
		ID:     "uc_" + chatID,
		UserID: "me",
		ChatID: chatID,
		Chat:   models.Chat{ID: chatID, Name: name, Type: models.ChatGroup},
	}
}

func message(id, chatID, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "u2",
		Content:   content,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestAddMessageAppendsAndUpdatesPreview(t *testing.T) {
	s := New()
	s.SetChats([]models.UserChat{userChat("c1", "one"), userChat("c2", "two")})

	for i := 0; i < 5; i++ {
		chatID := "c1"
		if i%2 == 1 {
			chatID = "c2"
		}
		before := len(s.Snapshot().Messages)
		msg := message(fmt.Sprintf("m%d", i), chatID, fmt.Sprintf("hello %d", i))
		s.AddMessage(msg)

		st := s.Snapshot()
		assert.Len(t, st.Messages, before+1)
		for _, uc := range st.Chats {
			if uc.ChatID == chatID {
				require.Len(t, uc.Chat.Messages, 1)
				assert.Equal(t, msg, uc.Chat.Messages[0])
				assert.True(t, uc.Chat.UpdatedAt.Equal(msg.Timestamp))
			}
		}
	}

	st := s.Snapshot()
	assert.Equal(t, "c1", st.Chats[0].ChatID, "chats list order is preserved")
	assert.Equal(t, "m4", st.Chats[0].Chat.Messages[0].ID)
	assert.Equal(t, "m3", st.Chats[1].Chat.Messages[0].ID)
}

func TestAddMessageForInactiveChat(t *testing.T) {
	s := New()
	c2 := userChat("c2", "two")
	s.SetChats([]models.UserChat{userChat("c1", "one"), c2})
	s.SetActiveChat(&c2.Chat)

	s.AddMessage(message("m1", "c1", "ping"))

	st := s.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "m1", st.Messages[0].ID)
	assert.Equal(t, "ping", LastMessagePreview(st.Chats[0].Chat))
	require.NotNil(t, st.ActiveChat)
	assert.Equal(t, "c2", st.ActiveChat.ID)
	assert.Empty(t, st.ActiveChat.Messages)
}

func TestAddMessageForActiveChat(t *testing.T) {
	s := New()
	c1 := userChat("c1", "one")
	c1.Chat.Messages = []models.ChatMessage{message("old", "c1", "old")}
	s.SetChats([]models.UserChat{c1})
	s.SetActiveChat(&c1.Chat)

	s.AddMessage(message("m1", "c1", "new"))

	active := s.ActiveChat()
	require.NotNil(t, active)
	require.Len(t, active.Messages, 1)
	assert.Equal(t, "m1", active.Messages[0].ID)
}

func TestUpdateThenDeleteLeavesNoTrace(t *testing.T) {
	s := New()
	c1 := userChat("c1", "one")
	c1.Chat.Messages = []models.ChatMessage{message("m1", "c1", "a")}
	s.SetActiveChat(&c1.Chat)
	s.SetMessages([]models.ChatMessage{message("m1", "c1", "a"), message("m2", "c1", "b")})

	s.UpdateMessage("m1", "edited")
	st := s.Snapshot()
	assert.Equal(t, "edited", st.Messages[0].Content)
	assert.Equal(t, "edited", st.ActiveChat.Messages[0].Content)
	assert.Equal(t, "b", st.Messages[1].Content)

	s.DeleteMessage("m1")
	st = s.Snapshot()
	for _, m := range st.Messages {
		assert.NotEqual(t, "m1", m.ID)
	}
	for _, m := range st.ActiveChat.Messages {
		assert.NotEqual(t, "m1", m.ID)
	}
	assert.Len(t, st.Messages, 1)
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	s := New()
	s.SetMessages([]models.ChatMessage{message("m1", "c1", "a")})
	before := s.Snapshot()

	s.UpdateMessage("missing", "x")
	s.DeleteMessage("missing")
	s.UpdateChat("missing", models.ChatPatch{})

	assert.Equal(t, before, s.Snapshot())
}

func TestSetChatsIdempotent(t *testing.T) {
	chats := []models.UserChat{userChat("c1", "one"), userChat("c2", "two")}

	once := New()
	once.SetChats(chats)

	twice := New()
	twice.SetChats(chats)
	twice.SetChats(chats)

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestAddChatPrepends(t *testing.T) {
	tests := []struct {
		name  string
		prior []models.UserChat
	}{
		{"empty", nil},
		{"one", []models.UserChat{userChat("c1", "one")}},
		{"many", []models.UserChat{userChat("c1", "one"), userChat("c2", "two"), userChat("c3", "three")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.SetChats(tt.prior)
			s.AddChat(userChat("new", "fresh"))

			st := s.Snapshot()
			require.Len(t, st.Chats, len(tt.prior)+1)
			assert.Equal(t, "new", st.Chats[0].ChatID)
		})
	}
}

func TestUpdateChatMergesEverywhere(t *testing.T) {
	s := New()
	c1 := userChat("c1", "one")
	s.SetChats([]models.UserChat{c1, userChat("c2", "two")})
	s.SetActiveChat(&c1.Chat)

	name := "renamed"
	avatar := "g.png"
	s.UpdateChat("c1", models.ChatPatch{Name: &name, Avatar: &avatar})

	st := s.Snapshot()
	assert.Equal(t, "renamed", st.Chats[0].Chat.Name)
	assert.Equal(t, "g.png", st.Chats[0].Chat.Avatar)
	assert.Equal(t, "two", st.Chats[1].Chat.Name)
	assert.Equal(t, "renamed", st.ActiveChat.Name)
	assert.Equal(t, models.ChatGroup, st.ActiveChat.Type)
}

func TestFlagsAndReset(t *testing.T) {
	s := New()
	s.SetLoading(true)
	s.SetError("Failed to fetch chats")
	st := s.Snapshot()
	assert.True(t, st.Loading)
	assert.Equal(t, "Failed to fetch chats", st.Error)

	s.ClearError()
	assert.Empty(t, s.Snapshot().Error)

	s.SetChats([]models.UserChat{userChat("c1", "one")})
	s.SetMessages([]models.ChatMessage{message("m1", "c1", "a")})
	s.Reset()
	st = s.Snapshot()
	assert.Empty(t, st.Chats)
	assert.Empty(t, st.Messages)
	assert.Nil(t, st.ActiveChat)
	assert.False(t, st.Loading)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.SetChats([]models.UserChat{userChat("c1", "one")})

	st := s.Snapshot()
	st.Chats[0].Chat.Name = "mutated"

	assert.Equal(t, "one", s.Snapshot().Chats[0].Chat.Name)
}

func TestSubscribeNotifies(t *testing.T) {
	s := New()
	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	s.SetLoading(true)
	s.AddChat(userChat("c1", "one"))
	assert.Equal(t, 2, calls)

	unsubscribe()
	s.SetLoading(false)
	assert.Equal(t, 2, calls)
}

func TestPersistsOnlyChatsAndActiveChat(t *testing.T) {
	p := newMemPersister()
	s := New(WithPersister(p, "chat-store"))

	c1 := userChat("c1", "one")
	s.SetChats([]models.UserChat{c1})
	s.SetActiveChat(&c1.Chat)
	s.SetMessages([]models.ChatMessage{message("m1", "c1", "a")})
	s.SetLoading(true)
	s.SetError("boom")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(p.data["chat-store"], &raw))
	assert.Contains(t, raw, "chats")
	assert.Contains(t, raw, "activeChat")
	assert.NotContains(t, raw, "messages")
	assert.Equal(t, 2, p.saves)

	restored := New(WithPersister(p, "chat-store"))
	require.NoError(t, restored.Restore(context.Background()))
	st := restored.Snapshot()
	require.Len(t, st.Chats, 1)
	assert.Equal(t, "c1", st.Chats[0].ChatID)
	require.NotNil(t, st.ActiveChat)
	assert.Equal(t, "c1", st.ActiveChat.ID)
	assert.Empty(t, st.Messages)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
}

func TestRestoreMissingAndCorrupt(t *testing.T) {
	p := newMemPersister()
	s := New(WithPersister(p, ""))
	require.NoError(t, s.Restore(context.Background()))

	p.data[DefaultKey] = []byte("not json")
	assert.Error(t, s.Restore(context.Background()))
}

func TestSaveFailureDoesNotBlockMutation(t *testing.T) {
	p := newMemPersister()
	p.err = errors.New("disk full")
	s := New(WithPersister(p, ""))

	s.AddChat(userChat("c1", "one"))
	assert.Len(t, s.Snapshot().Chats, 1)
}

func TestVaultPersister(t *testing.T) {
	p := NewVaultPersister(session.NewVault(t.TempDir()))
	ctx := context.Background()

	_, err := p.Load(ctx, "chat-store")
	assert.ErrorIs(t, err, ErrNotFound)

	s := New(WithPersister(p, "chat-store"))
	s.AddChat(userChat("c1", "one"))

	restored := New(WithPersister(p, "chat-store"))
	require.NoError(t, restored.Restore(ctx))
	assert.Len(t, restored.Snapshot().Chats, 1)
}
