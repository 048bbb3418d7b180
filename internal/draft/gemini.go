package draft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	genai "google.golang.org/genai"

	"ticketbridge/internal/domain"
)

// GeminiGenerator drafts tracker fields with the Gemini API. One network
// call per Draft invocation; no retries here.
type GeminiGenerator struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewGeminiGenerator(ctx context.Context, model string, timeout time.Duration, logger *slog.Logger) (*GeminiGenerator, error) {
	// The client reads GEMINI_API_KEY from the environment.
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-pro"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiGenerator{cli: cli, model: model, timeout: timeout, logger: logger}, nil
}

func (g *GeminiGenerator) Draft(ctx context.Context, req domain.DraftRequirement) (domain.DraftFields, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := buildPrompt(req)
	start := time.Now()

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return domain.DraftFields{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return domain.DraftFields{}, &domain.GenerationError{
			Reason: "invalid_format",
			Err:    fmt.Errorf("empty model response"),
		}
	}

	fields, err := ParseDraft(resp.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return domain.DraftFields{}, err
	}

	g.logger.Debug("draft generated",
		"model", g.model,
		"duration", time.Since(start),
		"issueType", fields.IssueType)
	return fields, nil
}
