package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter answers locally for dev runs without provider keys.
type NoopAIAdapter struct {
	log   *zerolog.Logger
	delay time.Duration
}

func NewNoopAIAdapter(log *zerolog.Logger) *NoopAIAdapter {
	l := log.With().Str("component", "noop-ai").Logger()
	return &NoopAIAdapter{log: &l, delay: 100 * time.Millisecond}
}

func (a *NoopAIAdapter) Name() string { return "noop" }

func (a *NoopAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return EstimateTokens(noopModel(model), messages), nil
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	a.log.Debug().Str("model", model).Int("messages", len(messages)).Msg("noop generation")

	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	text := fmt.Sprintf("Draft (%d chars requested): %s", len(prompt), "Led cross-functional delivery of measurable results.")
	pt, _ := a.CountTokens(ctx, model, messages)
	return text, adapter.Usage{PromptTokens: pt, CompletionTokens: 12, TotalTokens: pt + 12}, nil
}

func noopModel(model string) string {
	if model == "" {
		return "gpt-4o-mini"
	}
	return model
}
