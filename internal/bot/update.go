package bot

import (
	"strings"

	"soma-bot/internal/conversation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// unsupported marks messages that carry nothing the conversation can read.
const unsupported = "unsupported"

var localCommands = map[string]bool{
	"start": true,
	"help":  true,
	"info":  true,
}

type inbound struct {
	chatID     int64
	event      conversation.Event
	callbackID string
	local      string
	args       string
}

// parseUpdate maps a Telegram update onto a conversation event. Commands
// answered without touching the conversation are returned in local.
// Sessions are keyed by chat, so only private chats are served.
func parseUpdate(update tgbotapi.Update) (inbound, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil || !cb.Message.Chat.IsPrivate() {
			return inbound{callbackID: cb.ID}, cb.ID != ""
		}
		chatID := cb.Message.Chat.ID
		return inbound{
			chatID:     chatID,
			callbackID: cb.ID,
			event:      conversation.SelectionInput(chatID, requesterHandle(cb.From), cb.Data),
		}, true

	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil || !msg.Chat.IsPrivate() {
			return inbound{}, false
		}
		chatID := msg.Chat.ID
		handle := requesterHandle(msg.From)

		if msg.IsCommand() {
			cmd := strings.ToLower(msg.Command())
			in := inbound{chatID: chatID, event: conversation.Command(chatID, handle, cmd)}
			if localCommands[cmd] {
				in.local = cmd
				in.args = msg.CommandArguments()
			}
			return in, true
		}

		switch {
		case msg.Contact != nil:
			return inbound{chatID: chatID, event: conversation.TextInput(chatID, handle, msg.Contact.PhoneNumber)}, true
		case msg.Text != "":
			return inbound{chatID: chatID, event: conversation.TextInput(chatID, handle, msg.Text)}, true
		default:
			return inbound{chatID: chatID, local: unsupported}, true
		}
	}
	return inbound{}, false
}

// requesterHandle prefers the Telegram username and falls back to the
// display name.
func requesterHandle(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
