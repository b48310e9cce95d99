// Package telegram delivers notifications to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/heraldo/internal/notify"
	tele "gopkg.in/telebot.v4"
)

// telegramTextLimit is Telegram's maximum message length.
const telegramTextLimit = 4096

// bot abstracts the telebot methods we use, enabling test mocks.
type bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// SenderOpts holds parameters for creating a Telegram Sender.
type SenderOpts struct {
	Token  string
	ChatID int64
	// For testing: inject a mock bot instead of the real API.
	Bot bot
}

// Sender implements notify.Sender.
type Sender struct {
	bot    bot
	chatID int64
}

// New creates a Telegram Sender. The bot runs offline: it only sends and
// never polls for updates.
func New(opts SenderOpts) (*Sender, error) {
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat id is required")
	}
	b := opts.Bot
	if b == nil {
		if strings.TrimSpace(opts.Token) == "" {
			return nil, fmt.Errorf("telegram: token is required")
		}
		tb, err := tele.NewBot(tele.Settings{Token: opts.Token, Offline: true})
		if err != nil {
			return nil, fmt.Errorf("telegram: create bot: %w", err)
		}
		b = tb
	}
	return &Sender{bot: b, chatID: opts.ChatID}, nil
}

// Name returns "telegram".
func (s *Sender) Name() string { return "telegram" }

// Send posts msg as plain text.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := notify.PlainText(msg)
	if len(text) > telegramTextLimit {
		text = text[:telegramTextLimit-3] + "..."
	}
	chat := &tele.Chat{ID: s.chatID}
	if _, err := s.bot.Send(chat, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
