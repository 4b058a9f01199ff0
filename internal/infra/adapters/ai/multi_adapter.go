package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"novacv/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

var ErrNoProvider = errors.New("ai: no provider configured")

// MultiAIAdapter routes a model to its provider and fails over to the other
// configured providers when generation errors. Failover passes an empty model
// so each provider falls back to its own default.
type MultiAIAdapter struct {
	primary   string
	providers map[string]adapter.AIServiceAdapter
	order     []string
	models    map[string]string
}

func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.AIServiceAdapter,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	m := &MultiAIAdapter{
		primary:   strings.ToLower(defaultProvider),
		providers: make(map[string]adapter.AIServiceAdapter, len(byProvider)),
		models:    modelToProvider,
	}
	for name, a := range byProvider {
		if a == nil {
			continue
		}
		name = strings.ToLower(name)
		m.providers[name] = a
		m.order = append(m.order, name)
	}
	sort.Strings(m.order)
	return m
}

func (m *MultiAIAdapter) Name() string { return "multi" }

func (m *MultiAIAdapter) providerFor(model string) string {
	if p := m.models[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	}
	return m.primary
}

// candidates lists the routed provider first, then the primary, then the rest
// in name order.
func (m *MultiAIAdapter) candidates(model string) []string {
	out := make([]string, 0, len(m.order))
	seen := make(map[string]bool, len(m.order))
	add := func(name string) {
		if _, ok := m.providers[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(m.providerFor(model))
	add(m.primary)
	for _, name := range m.order {
		add(name)
	}
	return out
}

func (m *MultiAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	names := m.candidates(model)
	if len(names) == 0 {
		return 0, ErrNoProvider
	}
	return m.providers[names[0]].CountTokens(ctx, model, messages)
}

func (m *MultiAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	names := m.candidates(model)
	if len(names) == 0 {
		return "", adapter.Usage{}, ErrNoProvider
	}
	var errs []error
	for i, name := range names {
		mdl := model
		if i > 0 {
			mdl = ""
		}
		text, u, err := m.providers[name].ChatWithUsage(ctx, mdl, messages)
		if err == nil {
			return text, u, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", adapter.Usage{}, errors.Join(errs...)
}
