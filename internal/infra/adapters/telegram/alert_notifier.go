package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"novacv/internal/domain/ports/adapter"
	"novacv/internal/infra/worker"
)

var _ adapter.AlertNotifier = (*AlertNotifier)(nil)

// Sender is the slice of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertNotifier pages operators in Telegram chats. Delivery happens on the
// worker pool so callers never wait on the Bot API.
type AlertNotifier struct {
	bot     Sender
	chatIDs []int64
	pool    *worker.Pool
	log     *zerolog.Logger
}

// NewTelegramAlertNotifier logs in with token; tgbotapi checks it with getMe.
func NewTelegramAlertNotifier(token string, chatIDs []int64, pool *worker.Pool, logger *zerolog.Logger) (*AlertNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return NewAlertNotifier(bot, chatIDs, pool, logger), nil
}

func NewAlertNotifier(bot Sender, chatIDs []int64, pool *worker.Pool, logger *zerolog.Logger) *AlertNotifier {
	l := logger.With().Str("component", "AlertNotifier").Logger()
	return &AlertNotifier{bot: bot, chatIDs: chatIDs, pool: pool, log: &l}
}

func (n *AlertNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	if len(n.chatIDs) == 0 {
		return nil
	}
	text := FormatAlert(a)
	if n.pool == nil {
		return n.send(text)
	}
	return n.pool.Submit(func(ctx context.Context) error { return n.send(text) })
}

func (n *AlertNotifier) send(text string) error {
	var errs []error
	for _, id := range n.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", id).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FormatAlert renders a as plain text with fields in key order.
func FormatAlert(a adapter.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}
