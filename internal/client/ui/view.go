package ui

import (
	"fmt"
	"strings"

	"github.com/cloudzz-dev/cldzchat/internal/client/chatstore"
	"github.com/cloudzz-dev/cldzchat/internal/client/models"
)

func (m Model) View() string {
	var body string
	switch {
	case m.state.Error != "" && m.view != viewNewChat:
		body = m.errorView()
	case m.view == viewChat:
		body = m.chatView()
	case m.view == viewNewChat:
		body = m.newChatView()
	default:
		body = m.chatsView()
	}
	return body + m.toastLine()
}

func (m Model) toastLine() string {
	if m.toast.text == "" {
		return ""
	}
	if m.toast.isErr {
		return "\n" + errorStyle.Render("  "+m.toast.text)
	}
	return "\n" + successStyle.Render("  "+m.toast.text)
}

func (m Model) errorView() string {
	var s strings.Builder
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(errorStyle.Render(m.state.Error) + "\n\n" + selectedStyle.Render("[ Try Again ]")))
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("  Enter to try again • q to quit"))
	return s.String()
}

func (m Model) connectionLabel() string {
	if m.connected {
		return onlineDot + mutedStyle.Render(fmt.Sprintf(" %d online", len(m.online)))
	}
	return offlineDot + mutedStyle.Render(" offline")
}

func (m Model) chatsView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("CLDZCHAT - %s", m.userName)))
	s.WriteString("  " + m.connectionLabel())
	s.WriteString("\n\n")

	if m.searching || m.search.Value() != "" {
		s.WriteString("  " + m.search.View() + "\n\n")
	}

	chats := m.filteredChats()
	switch {
	case m.state.Loading:
		s.WriteString(mutedStyle.Render("  Loading chats...\n"))
	case len(chats) == 0 && m.search.Value() != "":
		s.WriteString(mutedStyle.Render("  No chats found\n"))
	case len(chats) == 0:
		s.WriteString(mutedStyle.Render("  No chats yet\n"))
		s.WriteString(mutedStyle.Render("  Press 'n' to start a new one.\n"))
	default:
		for i, uc := range chats {
			s.WriteString(m.chatRow(uc, i == m.cursor))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • / search • n new • r refresh • q quit"))
	return s.String()
}

func (m Model) chatRow(uc models.UserChat, selected bool) string {
	prefix := "  "
	if selected {
		prefix = "→ "
	}

	marker := " "
	if peer, ok := chatstore.PrivatePeer(uc.Chat, m.userID); ok {
		marker = offlineDot
		if m.online[peer.ID] {
			marker = onlineDot
		}
	} else if uc.Chat.Type == models.ChatGroup {
		marker = "#"
	}

	name := chatstore.ChatName(uc.Chat, m.userID)
	if selected {
		name = selectedStyle.Render(name)
	}
	if m.state.ActiveChat != nil && m.state.ActiveChat.ID == uc.ChatID {
		name += mutedStyle.Render(" (open)")
	}

	badge := ""
	if uc.UnreadCount > 0 {
		badge = " " + badgeStyle.Render(fmt.Sprint(uc.UnreadCount))
	}

	updated := ""
	if !uc.Chat.UpdatedAt.IsZero() {
		updated = "  " + mutedStyle.Render(uc.Chat.UpdatedAt.Local().Format("15:04"))
	}

	return fmt.Sprintf("%s%s %s%s%s\n    %s\n",
		prefix, marker, name, badge, updated,
		mutedStyle.Render(chatstore.LastMessagePreview(uc.Chat)),
	)
}

func (m Model) chatHeader() string {
	chat := m.state.ActiveChat
	if chat == nil {
		return titleStyle.Render("Select a chat to start messaging")
	}

	name := chatstore.ChatName(*chat, m.userID)
	var sub string
	if chat.Type == models.ChatPrivate {
		sub = "Offline"
		if peer, ok := chatstore.PrivatePeer(*chat, m.userID); ok && m.online[peer.ID] {
			sub = "Online"
		}
	} else {
		sub = fmt.Sprintf("%d participants", len(chat.UserChats))
		var online []string
		for _, u := range chatstore.OtherUsers(*chat, m.userID) {
			if m.online[u.ID] {
				online = append(online, u.Name)
			}
		}
		if len(online) > 0 {
			sub += " • online: " + strings.Join(online, ", ")
		}
	}
	return titleStyle.Render("💬 "+name) + "  " + mutedStyle.Render(sub)
}

func (m Model) chatView() string {
	var s strings.Builder
	rule := strings.Repeat("─", max(m.width-2, 10))

	s.WriteString(m.chatHeader())
	s.WriteString("\n")
	s.WriteString(rule)
	s.WriteString("\n")
	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")
	s.WriteString(rule)
	s.WriteString("\n")
	s.WriteString(m.composer.View())
	s.WriteString("\n")

	switch {
	case m.selectMode:
		s.WriteString(helpStyle.Render("↑/↓ choose • e edit • d delete • Esc done"))
	case m.editingID != "":
		s.WriteString(helpStyle.Render("Enter to save • Esc to cancel"))
	default:
		s.WriteString(helpStyle.Render("Enter to send • Ctrl+E select • Ctrl+L leave • Esc to go back"))
	}
	return s.String()
}

func (m *Model) updateChatViewport() {
	var content strings.Builder
	switch {
	case m.state.ActiveChat == nil:
		content.WriteString(mutedStyle.Render("Select a chat to start messaging"))
	case m.state.Loading && len(m.messages) == 0:
		content.WriteString(mutedStyle.Render("Loading messages..."))
	case len(m.messages) == 0:
		content.WriteString(mutedStyle.Render(chatstore.NoMessages))
	}

	for i, msg := range m.messages {
		style := otherMessageStyle
		if msg.SenderID == m.userID {
			style = ownMessageStyle
		}
		sender := msg.User.Name
		if sender == "" {
			sender = msg.SenderID
		}
		prefix := ""
		if m.selectMode {
			prefix = "  "
			if i == m.msgCursor {
				prefix = selectedStyle.Render("→ ")
			}
		}
		fmt.Fprintf(&content, "%s%s %s: %s\n",
			prefix,
			mutedStyle.Render(msg.Timestamp.Local().Format("15:04")),
			style.Render(sender),
			msg.Content,
		)
	}
	m.chatViewport.SetContent(content.String())
	if !m.selectMode {
		m.chatViewport.GotoBottom()
	}
}

func (m Model) newChatView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Chat"))
	s.WriteString("\n\n")

	typeLabel := "Private"
	if m.newChatType == models.ChatGroup {
		typeLabel = "Group"
	}
	s.WriteString(fmt.Sprintf("  Type: %s\n", selectedStyle.Render(typeLabel)))
	s.WriteString(helpStyle.Render("  (Ctrl+G to toggle)\n\n"))

	s.WriteString("  Name:\n")
	s.WriteString("  " + m.newChatName.View() + "\n\n")
	s.WriteString("  Add members:\n")
	s.WriteString("  " + m.newChatMember.View() + "\n\n")

	if len(m.newChatMembers) > 0 {
		s.WriteString("  Added:\n")
		for _, id := range m.newChatMembers {
			dot := offlineDot
			if m.online[id] {
				dot = onlineDot
			}
			s.WriteString(fmt.Sprintf("    %s %s\n", dot, id))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to add member • Ctrl+S to create • Esc to cancel"))
	return s.String()
}
