package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProvisionalID(t *testing.T) {
	a := NewProvisionalID("uc")
	b := NewProvisionalID("uc")

	assert.True(t, IsProvisional(a))
	assert.NotEqual(t, a, b)
	assert.False(t, IsProvisional("uc_1712345"))
	assert.False(t, IsProvisional("clx0k2c3d0000"))
}

func TestChatPatchApply(t *testing.T) {
	now := time.Now()
	name := "renamed"
	c := Chat{ID: "c1", Name: "old", Type: ChatGroup, Avatar: "a.png"}

	got := ChatPatch{Name: &name, UpdatedAt: &now}.Apply(c)

	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "a.png", got.Avatar)
	assert.Equal(t, ChatGroup, got.Type)
	assert.True(t, got.UpdatedAt.Equal(now))
	assert.Equal(t, "old", c.Name)
}

func TestCloneDoesNotAlias(t *testing.T) {
	uc := UserChat{Chat: Chat{Messages: []ChatMessage{{ID: "m1"}}}}
	cp := uc.Clone()
	cp.Chat.Messages[0].ID = "m2"

	assert.Equal(t, "m1", uc.Chat.Messages[0].ID)
}
