package telegram

import "gopkg.in/telebot.v3"

// Client pushes course updates into a user's Telegram chat.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
