package bot

import (
	"soma-bot/internal/conversation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram rejects callback data longer than this.
const maxCallbackData = 64

// choiceKeyboard lays out one button per row.
func choiceKeyboard(choices []conversation.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Token),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func buildMessage(out conversation.Outbound) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(out.UserID, out.Text)
	if len(out.Choices) > 0 {
		msg.ReplyMarkup = choiceKeyboard(out.Choices)
	}
	return msg
}
