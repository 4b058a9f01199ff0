package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"novacv/internal/domain/ports/adapter"
)

var _ adapter.AlertNotifier = (*NoopNotifier)(nil)

// NoopNotifier writes alerts to the log when no bot token is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	n.log.Warn().Str("severity", string(a.Severity)).Str("title", a.Title).Str("detail", a.Detail).Msg("alert")
	return nil
}
