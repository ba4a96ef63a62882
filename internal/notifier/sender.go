package notifier

import (
	"context"
	"errors"
	"strings"

	logx "schedd/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig targets one chat, optionally a forum thread.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramSender posts messages through the Bot API. It never polls for
// updates.
type TelegramSender struct {
	bot    *tele.Bot
	chat   *tele.Chat
	thread int
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, thread: cfg.ThreadID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              t.thread,
	})
	return err
}

// LogSender writes messages to the log. It is the fallback when no
// Telegram target is configured.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) Send(_ context.Context, text string) error {
	l.Log.Info("notification", logx.String("text", text))
	return nil
}
