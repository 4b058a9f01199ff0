package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/infra/logging"
	"novacv/internal/infra/metrics"
)

var _ AIUseCase = (*aiUC)(nil)

// Resume sections the assistant can draft.
const (
	SectionSummary     = "summary"
	SectionExperience  = "experience"
	SectionSkills      = "skills"
	SectionCoverLetter = "cover_letter"
)

var sectionPrompts = map[string]string{
	SectionSummary:     "Write a concise professional resume summary of at most four sentences. Use the candidate's own facts only.",
	SectionExperience:  "Rewrite the work experience as achievement bullet points that start with strong verbs and quantify results where the input allows.",
	SectionSkills:      "Produce a grouped, comma separated skills list suitable for applicant tracking systems.",
	SectionCoverLetter: "Draft a short cover letter in a confident, plain tone. Do not invent employers or dates.",
}

type Generation struct {
	Section   string `json:"section"`
	Text      string `json:"text"`
	Model     string `json:"model"`
	Remaining int64  `json:"remaining"`
}

type AIUseCase interface {
	// Generate drafts one resume section and consumes one aiGenerations unit
	// when the provider succeeds.
	Generate(ctx context.Context, userID, section, prompt string) (*Generation, error)
}

type AIConfig struct {
	Model           string
	MaxPromptTokens int
}

type aiUC struct {
	ents EntitlementUseCase
	ai   adapter.AIServiceAdapter
	cfg  AIConfig
	log  *zerolog.Logger
}

func NewAIUseCase(ents EntitlementUseCase, ai adapter.AIServiceAdapter, cfg AIConfig, logger *zerolog.Logger) *aiUC {
	l := logger.With().Str("component", "AIUC").Logger()
	return &aiUC{ents: ents, ai: ai, cfg: cfg, log: &l}
}

func (uc *aiUC) Generate(ctx context.Context, userID, section, prompt string) (*Generation, error) {
	defer logging.TraceDuration(uc.log, "AIUC.Generate")()
	log := logging.With(logging.WithUserID(ctx, userID), uc.log)

	system, ok := sectionPrompts[section]
	if !ok {
		return nil, fmt.Errorf("%w: unknown section %q", domain.ErrInvalidArgument, section)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidArgument)
	}

	d, err := uc.ents.CanUse(ctx, userID, model.FeatureAIGenerations)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		metrics.PrecheckBlocked("entitlement")
		return nil, deniedError(d)
	}

	msgs := []adapter.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	n, err := uc.ai.CountTokens(ctx, uc.cfg.Model, msgs)
	if err != nil {
		log.Warn().Err(err).Msg("token count failed, continuing without precheck")
	} else if uc.cfg.MaxPromptTokens > 0 && n > uc.cfg.MaxPromptTokens {
		metrics.PrecheckBlocked("prompt_tokens")
		return nil, fmt.Errorf("%w: prompt is %d tokens, limit %d", domain.ErrInvalidArgument, n, uc.cfg.MaxPromptTokens)
	}

	start := time.Now()
	text, usage, err := uc.ai.ChatWithUsage(ctx, uc.cfg.Model, msgs)
	latency := time.Since(start)
	if err != nil {
		metrics.ObserveGeneration(section, uc.cfg.Model, 0, 0, latency, false)
		log.Error().Err(err).Str("section", section).Msg("generation failed")
		return nil, fmt.Errorf("%w: generate: %v", domain.ErrUpstream, err)
	}
	metrics.ObserveGeneration(section, uc.cfg.Model, usage.PromptTokens, usage.CompletionTokens, latency, true)

	after, err := uc.ents.IncrementUsage(ctx, userID, model.FeatureAIGenerations, 1)
	if err != nil {
		// a concurrent generation can take the last unit between gate and increment
		log.Warn().Err(err).Msg("usage increment failed after generation")
		return nil, err
	}
	return &Generation{Section: section, Text: text, Model: uc.cfg.Model, Remaining: after.Remaining}, nil
}
