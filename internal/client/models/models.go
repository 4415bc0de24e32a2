package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ChatType string

const (
	ChatPrivate ChatType = "PRIVATE"
	ChatGroup   ChatType = "GROUP"
)

// ProvisionalPrefix tags identifiers synthesized on the client. Server-assigned
// identifiers never carry it.
const ProvisionalPrefix = "provisional:"

type ChatUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	User      ChatUser  `json:"user"`
}

// Membership is the per-user relationship to a chat.
type Membership struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
	UnreadCount int        `json:"unreadCount"`
	User        ChatUser   `json:"user"`
}

type Chat struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      ChatType     `json:"type"`
	Avatar    string       `json:"avatar,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	UserChats []Membership `json:"userChats"`
	// Messages caches at most the latest message for list previews.
	Messages []ChatMessage `json:"messages"`
}

// UserChat pairs the viewer's membership with a full chat snapshot.
type UserChat struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ChatID      string     `json:"chatId"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
	UnreadCount int        `json:"unreadCount"`
	Chat        Chat       `json:"chat"`
	// Provisional is set when the entry was synthesized from a push event.
	Provisional bool `json:"provisional,omitempty"`
}

// ChatPatch carries the fields updateChat merges into a chat. Nil fields are
// left untouched.
type ChatPatch struct {
	Name      *string
	Type      *ChatType
	Avatar    *string
	UpdatedAt *time.Time
	UserChats []Membership
	Messages  []ChatMessage
}

func (p ChatPatch) Apply(c Chat) Chat {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Type != nil {
		c.Type = *p.Type
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	if p.UserChats != nil {
		c.UserChats = append([]Membership(nil), p.UserChats...)
	}
	if p.Messages != nil {
		c.Messages = append([]ChatMessage(nil), p.Messages...)
	}
	return c
}

// NewProvisionalID returns an identifier in the provisional namespace.
func NewProvisionalID(kind string) string {
	return ProvisionalPrefix + kind + "_" + uuid.NewString()
}

func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Clone returns a deep copy so snapshots never alias store internals.
func (c Chat) Clone() Chat {
	c.UserChats = append([]Membership(nil), c.UserChats...)
	c.Messages = append([]ChatMessage(nil), c.Messages...)
	return c
}

func (uc UserChat) Clone() UserChat {
	uc.Chat = uc.Chat.Clone()
	return uc
}

// --- Wire ---

// Event names of the connection contract.
const (
	EventGetUserChat     = "get-user-chat"
	EventSendMessage     = "send-message"
	EventCreateChat      = "create-chat"
	EventGetChatMessages = "get-chat-messages"
	EventJoinChat        = "join-chat"
	EventLeaveChat       = "leave-chat"
	EventUpdateMessage   = "update-message"
	EventDeleteMessage   = "delete-message"
	EventGetUnreadCount  = "get-unread-count"

	EventNewMessage           = "new-message"
	EventMessageUpdated       = "message-updated"
	EventMessageDeleted       = "message-deleted"
	EventNewChat              = "new-chat"
	EventConnectedUsers       = "connected-users"
	EventUserConnected        = "user-connected"
	EventUserDisconnected     = "user-disconnected"
	EventUpdateConnectedUsers = "update-connected-users"

	// EventAck is the frame type the server uses to answer a request.
	EventAck = "ack"
)

// Frame is the envelope of every websocket text frame.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request payloads

type GetUserChatPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
	ChatID  string `json:"chatId"`
}

type CreateChatPayload struct {
	Name      string   `json:"name"`
	Type      ChatType `json:"type"`
	MemberIDs []string `json:"memberIds"`
	Avatar    string   `json:"avatar,omitempty"`
}

type ChatIDPayload struct {
	ChatID string `json:"chatId"`
}

type UpdateMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageIDPayload struct {
	MessageID string `json:"messageId"`
}

// Ack results

type ChatsResult struct {
	Chats []UserChat `json:"chats"`
}

type MessagesResult struct {
	Messages []ChatMessage `json:"messages"`
}

type UnreadResult struct {
	TotalUnread int `json:"totalUnread"`
}

// Push payloads

type MessageEvent struct {
	Message ChatMessage `json:"message"`
	ChatID  string      `json:"chatId"`
}

type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type NewChatEvent struct {
	Chat Chat `json:"chat"`
}

type ConnectedUsersEvent struct {
	UserIDs []string `json:"userIds"`
}

type UserPresenceEvent struct {
	User ChatUser `json:"user"`
}
