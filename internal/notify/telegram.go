package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

var _ Notifier = (*Telegram)(nil)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token   string
	ChatID  int64
	APIURL  string // optional, defaults to the public Bot API
	Timeout time.Duration
}

// Telegram sends messages to one chat through the Bot API.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewTelegram creates an offline bot; no request is made until the first Deliver.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

// Name implements Named.
func (t *Telegram) Name() string { return "telegram" }

// Deliver sends msg as HTML text. The bot API client has no context support,
// so cancellation is only observed before the call.
func (t *Telegram) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	if msg.Title != "" {
		sb.WriteString("<b>")
		sb.WriteString(html.EscapeString(msg.Title))
		sb.WriteString("</b>\n")
	}
	sb.WriteString("<pre>")
	sb.WriteString(html.EscapeString(msg.Body))
	sb.WriteString("</pre>")

	if _, err := t.bot.Send(t.chat, sb.String(), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
