package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/server/storage"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var errRateLimited = errors.New("Too many requests. Please wait a minute.")

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID string
	IP     string
	send   chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, ip string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		IP:     ip,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}

		var frame models.Frame
		if err := json.Unmarshal(msgBytes, &frame); err != nil {
			c.Hub.Log.Warn("malformed frame", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}

		c.ProcessMessage(frame)
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()
	for msg := range c.send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.Conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

// ProcessMessage answers one request frame with an ack. Frames without a
// correlation id get no ack.
func (c *Client) ProcessMessage(frame models.Frame) {
	var (
		data map[string]any
		err  error
	)
	if c.Hub.Limiter != nil && !c.Hub.Limiter.AllowRequest(c.UserID) {
		err = errRateLimited
	} else {
		data, err = c.handle(frame)
	}

	if err != nil {
		c.Hub.Log.Info("request failed",
			zap.String("user_id", c.UserID),
			zap.String("event", frame.Type),
			zap.Error(err),
		)
	}
	if frame.ID == "" {
		return
	}
	c.SendAck(frame.ID, data, err)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, storage.ErrInvalid
	}
	return v, nil
}

func (c *Client) handle(frame models.Frame) (map[string]any, error) {
	store := c.Hub.Store

	switch frame.Type {
	case models.EventGetUserChat:
		p, err := decode[models.GetUserChatPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		if p.UserID != "" && p.UserID != c.UserID {
			return nil, storage.ErrForbidden
		}
		return map[string]any{"chats": store.UserChats(c.UserID)}, nil

	case models.EventSendMessage:
		p, err := decode[models.SendMessagePayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		msg, err := store.SaveMessage(p.ChatID, c.UserID, p.Content)
		if err != nil {
			return nil, err
		}
		c.Hub.SendTo(store.MemberIDs(p.ChatID), models.EventNewMessage, models.MessageEvent{Message: msg, ChatID: p.ChatID})
		return map[string]any{"message": msg}, nil

	case models.EventCreateChat:
		p, err := decode[models.CreateChatPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		chat, err := store.CreateChat(c.UserID, p)
		if err != nil {
			return nil, err
		}
		c.Hub.SendTo(store.MemberIDs(chat.ID), models.EventNewChat, models.NewChatEvent{Chat: chat})
		return map[string]any{"chat": chat}, nil

	case models.EventGetChatMessages:
		p, err := decode[models.ChatIDPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		msgs, err := store.Messages(p.ChatID, c.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": msgs}, nil

	case models.EventJoinChat:
		p, err := decode[models.ChatIDPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		if !store.IsMember(p.ChatID, c.UserID) {
			return nil, storage.ErrForbidden
		}
		c.Hub.Join(p.ChatID, c.UserID)
		return nil, nil

	case models.EventLeaveChat:
		p, err := decode[models.ChatIDPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		c.Hub.Leave(p.ChatID, c.UserID)
		return nil, nil

	case models.EventUpdateMessage:
		p, err := decode[models.UpdateMessagePayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		msg, err := store.UpdateMessage(p.MessageID, c.UserID, p.Content)
		if err != nil {
			return nil, err
		}
		c.Hub.SendTo(store.MemberIDs(msg.ChatID), models.EventMessageUpdated, models.MessageEvent{Message: msg, ChatID: msg.ChatID})
		return map[string]any{"message": msg}, nil

	case models.EventDeleteMessage:
		p, err := decode[models.MessageIDPayload](frame.Payload)
		if err != nil {
			return nil, err
		}
		msg, err := store.DeleteMessage(p.MessageID, c.UserID)
		if err != nil {
			return nil, err
		}
		c.Hub.SendTo(store.MemberIDs(msg.ChatID), models.EventMessageDeleted, models.MessageDeletedEvent{MessageID: msg.ID, ChatID: msg.ChatID})
		return nil, nil

	case models.EventGetUnreadCount:
		return map[string]any{"totalUnread": store.UnreadCount(c.UserID)}, nil
	}

	return nil, errors.New("unknown event " + frame.Type)
}

func (c *Client) SendAck(id string, data map[string]any, err error) {
	body := map[string]any{"success": err == nil}
	if err != nil {
		body["error"] = err.Error()
	}
	for k, v := range data {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	frame, _ := json.Marshal(models.Frame{Type: models.EventAck, ID: id, Payload: payload})
	c.Hub.deliver(c, frame)
}

func (c *Client) SendPush(event string, payload any) {
	c.Hub.deliver(c, encodePush(event, payload))
}
