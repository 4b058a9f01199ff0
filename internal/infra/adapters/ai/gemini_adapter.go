package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"novacv/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter generates one-shot drafts with the Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
	maxOut int32
}

// NewGeminiAdapter builds the genai client. An empty baseURL keeps the SDK
// endpoint.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, model string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, model: model, maxOut: int32(maxOut)}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	_, contents := splitGemini(messages)
	resp, err := g.client.Models.CountTokens(ctx, g.pick(model), contents, nil)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	system, contents := splitGemini(messages)
	if len(contents) == 0 {
		return "", adapter.Usage{}, errors.New("gemini: no user content")
	}
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = g.maxOut
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.pick(model), contents, cfg)
	if err != nil {
		return "", adapter.Usage{}, err
	}

	var u adapter.Usage
	if md := resp.UsageMetadata; md != nil {
		u = adapter.Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", u, errors.New("gemini: empty candidate")
	}
	return text, u, nil
}

// pick ignores models that belong to another provider, which happens when a
// router fails over with the caller's model name.
func (g *GeminiAdapter) pick(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "gemini") {
		return model
	}
	return g.model
}

// splitGemini moves system messages into the instruction block and maps the
// rest to user/model turns.
func splitGemini(msgs []adapter.Message) (*genai.Content, []*genai.Content) {
	var sys []*genai.Part
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			sys = append(sys, &genai.Part{Text: m.Content})
		case "assistant", "model":
			contents = append(contents, turn(string(genai.RoleModel), m.Content))
		default:
			contents = append(contents, turn(string(genai.RoleUser), m.Content))
		}
	}
	if len(sys) == 0 {
		return nil, contents
	}
	return &genai.Content{Parts: sys}, contents
}

func turn(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}
