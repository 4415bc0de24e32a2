// Package ui is the terminal chat client: a chats list, the active
// conversation and a new-chat form, rendered from the chat and presence
// stores.
package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudzz-dev/cldzchat/internal/client/chatstore"
	"github.com/cloudzz-dev/cldzchat/internal/client/models"
	"github.com/cloudzz-dev/cldzchat/internal/client/presence"
)

const (
	toastTTL          = 4 * time.Second
	createChatInvalid = "Please provide a chat name and select at least one user"
)

// Actions is the chat sync surface the UI drives.
type Actions interface {
	FetchChats(ctx context.Context) error
	SendMessage(ctx context.Context, content, chatID string) error
	CreateChat(ctx context.Context, name string, typ models.ChatType, memberIDs []string, avatar string) error
	EditMessage(ctx context.Context, messageID, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	LeaveChat(ctx context.Context, chatID string) error
	SelectChat(ctx context.Context, chat *models.Chat) error
}

type Config struct {
	UserID   string
	UserName string
	Chats    *chatstore.Store
	Presence *presence.Store
	Actions  Actions
	Bridge   *Bridge
}

type viewState int

const (
	viewChats viewState = iota
	viewChat
	viewNewChat
)

type newChatField int

const (
	fieldName newChatField = iota
	fieldMembers
)

type actionDoneMsg struct {
	err error
}

type toastExpiredMsg struct {
	seq int
}

type Model struct {
	userID   string
	userName string
	chats    *chatstore.Store
	presence *presence.Store
	actions  Actions
	bridge   *Bridge

	// Store snapshot
	state     chatstore.State
	online    map[string]bool
	connected bool

	// Chats list
	cursor    int
	searching bool
	search    textinput.Model

	// Conversation
	composer     textinput.Model
	chatViewport viewport.Model
	messages     []models.ChatMessage // active chat only
	selectMode   bool
	msgCursor    int
	editingID    string

	// New chat
	newChatName    textinput.Model
	newChatMember  textinput.Model
	newChatType    models.ChatType
	newChatMembers []string
	newChatFocus   newChatField

	// UI
	view      viewState
	toast     toast
	toastGen  int
	bridgeSeq int
	width     int
	height    int
}

func New(cfg Config) Model {
	search := textinput.New()
	search.Placeholder = "Search chats..."
	search.CharLimit = 64
	search.Width = 30

	composer := textinput.New()
	composer.Placeholder = "Type a message..."
	composer.CharLimit = 1000
	composer.Width = 50

	name := textinput.New()
	name.Placeholder = "Chat name"
	name.CharLimit = 64
	name.Width = 30

	member := textinput.New()
	member.Placeholder = "Enter user id to add..."
	member.CharLimit = 64
	member.Width = 30

	m := Model{
		userID:        cfg.UserID,
		userName:      cfg.UserName,
		chats:         cfg.Chats,
		presence:      cfg.Presence,
		actions:       cfg.Actions,
		bridge:        cfg.Bridge,
		search:        search,
		composer:      composer,
		chatViewport:  viewport.New(80, 20),
		newChatName:   name,
		newChatMember: member,
		newChatType:   models.ChatPrivate,
		view:          viewChats,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.bridge.wait())
}

// activeMessages keeps the messages of the active chat. The store's list also
// collects pushes for other chats the viewer belongs to.
func activeMessages(st chatstore.State) []models.ChatMessage {
	if st.ActiveChat == nil {
		return nil
	}
	out := make([]models.ChatMessage, 0, len(st.Messages))
	for _, msg := range st.Messages {
		if msg.ChatID == "" || msg.ChatID == st.ActiveChat.ID {
			out = append(out, msg)
		}
	}
	return out
}

// refresh re-reads the stores and the bridge.
func (m *Model) refresh() {
	m.state = m.chats.Snapshot()
	m.messages = activeMessages(m.state)

	m.online = make(map[string]bool)
	for _, id := range m.presence.ConnectedUserIDs() {
		m.online[id] = true
	}

	var t toast
	m.connected, t = m.bridge.read()
	if t.seq > m.bridgeSeq {
		m.bridgeSeq = t.seq
		m.showToast(t.text, t.isErr)
	}

	if n := len(m.filteredChats()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	if n := len(m.messages); m.msgCursor >= n {
		m.msgCursor = max(n-1, 0)
	}
	if len(m.messages) == 0 {
		m.selectMode = false
	}
	m.updateComposer()
	m.updateChatViewport()
}

func (m Model) filteredChats() []models.UserChat {
	return chatstore.FilterChats(m.state.Chats, m.search.Value())
}

func (m Model) canCompose() bool {
	return m.connected && m.state.ActiveChat != nil
}

func (m *Model) updateComposer() {
	switch {
	case m.state.ActiveChat == nil:
		m.composer.Placeholder = "Select a chat to start messaging"
	case !m.connected:
		m.composer.Placeholder = "Connecting..."
	case m.editingID != "":
		m.composer.Placeholder = "Edit message..."
	default:
		m.composer.Placeholder = "Type a message..."
	}
	if m.view == viewChat && m.canCompose() && !m.selectMode {
		m.composer.Focus()
	} else {
		m.composer.Blur()
	}
}

func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: fn(context.Background())}
	}
}

func expireToast(seq int) tea.Cmd {
	return tea.Tick(toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{seq: seq} })
}

func (m *Model) showToast(text string, isErr bool) {
	m.toastGen++
	m.toast = toast{seq: m.toastGen, text: text, isErr: isErr}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 9
		m.updateChatViewport()
		return m, nil

	case changedMsg:
		gen := m.toastGen
		m.refresh()
		cmds := []tea.Cmd{m.bridge.wait()}
		if m.toastGen > gen {
			cmds = append(cmds, expireToast(m.toast.seq))
		}
		return m, tea.Batch(cmds...)

	case toastExpiredMsg:
		if msg.seq == m.toast.seq {
			m.toast = toast{seq: m.toast.seq}
		}
		return m, nil

	case actionDoneMsg:
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.state.Error != "" && m.view != viewNewChat {
			return m.updateError(msg)
		}
		switch m.view {
		case viewChats:
			return m.updateChats(msg)
		case viewChat:
			return m.updateChat(msg)
		case viewNewChat:
			return m.updateNewChat(msg)
		}
	}
	return m, nil
}

func (m Model) updateError(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", "r":
		m.chats.ClearError()
		m.refresh()
		return m, m.run(m.actions.FetchChats)
	}
	return m, nil
}

func (m Model) updateChats(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		var cmd tea.Cmd
		switch msg.String() {
		case "esc":
			m.searching = false
			m.search.SetValue("")
			m.search.Blur()
		case "enter":
			m.searching = false
			m.search.Blur()
		default:
			m.search, cmd = m.search.Update(msg)
		}
		m.cursor = 0
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "/":
		m.searching = true
		m.search.Focus()

	case "esc":
		m.search.SetValue("")
		m.cursor = 0

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.filteredChats())-1 {
			m.cursor++
		}

	case "r":
		return m, m.run(m.actions.FetchChats)

	case "n":
		m.view = viewNewChat
		m.newChatFocus = fieldName
		m.newChatName.Focus()
		m.newChatMember.Blur()

	case "enter":
		chats := m.filteredChats()
		if len(chats) == 0 {
			return m, nil
		}
		chat := chats[m.cursor].Chat
		m.view = viewChat
		m.selectMode = false
		m.editingID = ""
		m.updateComposer()
		return m, m.run(func(ctx context.Context) error {
			return m.actions.SelectChat(ctx, &chat)
		})
	}
	return m, nil
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.selectMode {
		return m.updateSelect(msg)
	}

	switch msg.String() {
	case "esc":
		if m.editingID != "" {
			m.editingID = ""
			m.composer.SetValue("")
			m.updateComposer()
			return m, nil
		}
		m.view = viewChats
		m.updateComposer()
		return m, nil

	case "ctrl+e":
		if len(m.messages) > 0 {
			m.selectMode = true
			m.msgCursor = len(m.messages) - 1
			m.updateComposer()
			m.updateChatViewport()
		}
		return m, nil

	case "ctrl+l":
		if m.state.ActiveChat == nil {
			return m, nil
		}
		chatID := m.state.ActiveChat.ID
		m.view = viewChats
		m.updateComposer()
		return m, m.run(func(ctx context.Context) error {
			if err := m.actions.LeaveChat(ctx, chatID); err != nil {
				return err
			}
			return m.actions.SelectChat(ctx, nil)
		})

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chatViewport, cmd = m.chatViewport.Update(msg)
		return m, cmd

	case "enter":
		if !m.canCompose() {
			return m, nil
		}
		content := m.composer.Value()
		if strings.TrimSpace(content) == "" {
			return m, nil
		}
		m.composer.SetValue("")
		if id := m.editingID; id != "" {
			m.editingID = ""
			m.updateComposer()
			return m, m.run(func(ctx context.Context) error {
				return m.actions.EditMessage(ctx, id, content)
			})
		}
		chatID := m.state.ActiveChat.ID
		return m, m.run(func(ctx context.Context) error {
			return m.actions.SendMessage(ctx, content, chatID)
		})
	}

	var cmd tea.Cmd
	if m.canCompose() {
		m.composer, cmd = m.composer.Update(msg)
	}
	return m, cmd
}

func (m Model) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+e":
		m.selectMode = false

	case "up", "k":
		if m.msgCursor > 0 {
			m.msgCursor--
		}

	case "down", "j":
		if m.msgCursor < len(m.messages)-1 {
			m.msgCursor++
		}

	case "e":
		target, ok := m.selectedOwnMessage()
		if !ok {
			return m, nil
		}
		m.selectMode = false
		m.editingID = target.ID
		m.composer.SetValue(target.Content)
		m.composer.CursorEnd()

	case "d":
		target, ok := m.selectedOwnMessage()
		if !ok {
			return m, nil
		}
		m.selectMode = false
		m.updateComposer()
		m.updateChatViewport()
		return m, m.run(func(ctx context.Context) error {
			return m.actions.DeleteMessage(ctx, target.ID)
		})
	}
	m.updateComposer()
	m.updateChatViewport()
	return m, nil
}

func (m Model) selectedOwnMessage() (models.ChatMessage, bool) {
	if m.msgCursor < 0 || m.msgCursor >= len(m.messages) {
		return models.ChatMessage{}, false
	}
	msg := m.messages[m.msgCursor]
	if msg.SenderID != m.userID {
		return models.ChatMessage{}, false
	}
	return msg, true
}

func (m Model) updateNewChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.resetNewChat()
		m.view = viewChats
		return m, nil

	case "tab":
		if m.newChatFocus == fieldName {
			m.newChatFocus = fieldMembers
			m.newChatName.Blur()
			m.newChatMember.Focus()
		} else {
			m.newChatFocus = fieldName
			m.newChatMember.Blur()
			m.newChatName.Focus()
		}
		return m, nil

	case "ctrl+g":
		if m.newChatType == models.ChatPrivate {
			m.newChatType = models.ChatGroup
		} else {
			m.newChatType = models.ChatPrivate
		}
		return m, nil

	case "enter":
		if m.newChatFocus == fieldMembers {
			if id := strings.TrimSpace(m.newChatMember.Value()); id != "" {
				m.newChatMembers = append(m.newChatMembers, id)
				m.newChatMember.SetValue("")
			}
			return m, nil
		}
		m.newChatFocus = fieldMembers
		m.newChatName.Blur()
		m.newChatMember.Focus()
		return m, nil

	case "ctrl+s":
		name := strings.TrimSpace(m.newChatName.Value())
		if name == "" || len(m.newChatMembers) == 0 {
			m.showToast(createChatInvalid, true)
			return m, expireToast(m.toast.seq)
		}
		typ := m.newChatType
		members := append([]string(nil), m.newChatMembers...)
		m.resetNewChat()
		m.view = viewChats
		return m, m.run(func(ctx context.Context) error {
			return m.actions.CreateChat(ctx, name, typ, members, "")
		})
	}

	var cmd tea.Cmd
	if m.newChatFocus == fieldName {
		m.newChatName, cmd = m.newChatName.Update(msg)
	} else {
		m.newChatMember, cmd = m.newChatMember.Update(msg)
	}
	return m, cmd
}

func (m *Model) resetNewChat() {
	m.newChatName.SetValue("")
	m.newChatMember.SetValue("")
	m.newChatMembers = nil
	m.newChatType = models.ChatPrivate
	m.newChatFocus = fieldName
	m.newChatName.Blur()
	m.newChatMember.Blur()
}
