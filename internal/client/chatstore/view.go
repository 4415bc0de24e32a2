package chatstore

import (
	"strings"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
)

const (
	PlaceholderAvatar = "/placeholder-user.jpg"
	UnknownUser       = "Unknown User"
	NoMessages        = "No messages yet"
	previewRunes      = 50
)

func otherMember(chat models.Chat, currentUserID string) *models.Membership {
	for i := range chat.UserChats {
		if chat.UserChats[i].UserID != currentUserID {
			return &chat.UserChats[i]
		}
	}
	return nil
}

// ChatName is the other participant's name for private chats and the chat
// name for groups.
func ChatName(chat models.Chat, currentUserID string) string {
	if chat.Type == models.ChatPrivate {
		if other := otherMember(chat, currentUserID); other != nil && other.User.Name != "" {
			return other.User.Name
		}
		return UnknownUser
	}
	return chat.Name
}

func ChatAvatar(chat models.Chat, currentUserID string) string {
	if chat.Avatar != "" {
		return chat.Avatar
	}
	if chat.Type == models.ChatPrivate {
		if other := otherMember(chat, currentUserID); other != nil && other.User.Image != "" {
			return other.User.Image
		}
	}
	return PlaceholderAvatar
}

// LastMessagePreview renders the cached latest message, truncated.
func LastMessagePreview(chat models.Chat) string {
	if len(chat.Messages) == 0 {
		return NoMessages
	}
	content := []rune(chat.Messages[0].Content)
	if len(content) > previewRunes {
		return string(content[:previewRunes]) + "..."
	}
	return string(content)
}

func OtherUsers(chat models.Chat, currentUserID string) []models.ChatUser {
	var users []models.ChatUser
	for _, m := range chat.UserChats {
		if m.UserID != currentUserID {
			users = append(users, m.User)
		}
	}
	return users
}

// PrivatePeer returns the other member of a private chat.
func PrivatePeer(chat models.Chat, currentUserID string) (models.ChatUser, bool) {
	if chat.Type != models.ChatPrivate {
		return models.ChatUser{}, false
	}
	other := otherMember(chat, currentUserID)
	if other == nil || other.User.ID == "" {
		return models.ChatUser{}, false
	}
	return other.User, true
}

// FilterChats keeps the entries whose chat name contains query, ignoring case.
func FilterChats(chats []models.UserChat, query string) []models.UserChat {
	if query == "" {
		return chats
	}
	q := strings.ToLower(query)
	var out []models.UserChat
	for _, uc := range chats {
		if strings.Contains(strings.ToLower(uc.Chat.Name), q) {
			out = append(out, uc)
		}
	}
	return out
}
