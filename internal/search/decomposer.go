package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Decomposer splits a query into at most limit sub-queries.
type Decomposer interface {
	Decompose(ctx context.Context, query string, limit int) ([]string, error)
}

var (
	conjunctionRe  = regexp.MustCompile(`(?i)\b(?:as well as|in addition to|and|also)\b`)
	questionWordRe = regexp.MustCompile(`(?i)\b(?:what|how|why|when|where|who)\b`)
	listMarkerRe   = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
)

// HeuristicDecomposer splits on conjunctions, or on question marks when the query
// asks more than one question.
type HeuristicDecomposer struct{}

// Decompose never fails. A query it cannot split comes back as the only sub-query.
func (HeuristicDecomposer) Decompose(_ context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if parts := splitClean(conjunctionRe.Split(query, -1), ""); len(parts) > 1 {
		return bound(parts, limit), nil
	}
	if len(questionWordRe.FindAllStringIndex(query, -1)) > 1 {
		if parts := splitClean(strings.Split(query, "?"), "?"); len(parts) > 1 {
			return bound(parts, limit), nil
		}
	}
	return []string{query}, nil
}

// splitClean trims parts, drops empty ones and case-insensitive duplicates, and
// appends suffix to each.
func splitClean(parts []string, suffix string) []string {
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, " \t\n,;")
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p+suffix)
	}
	return out
}

// bound folds everything past limit-1 into the last sub-query so no words are lost.
func bound(parts []string, limit int) []string {
	if limit <= 0 || len(parts) <= limit {
		return parts
	}
	if limit == 1 {
		return []string{strings.Join(parts, " ")}
	}
	out := append([]string(nil), parts[:limit-1]...)
	return append(out, strings.Join(parts[limit-1:], " "))
}

const decomposePrompt = `Split the user's search request into at most %d independent search queries.
Return one query per line with no numbering or commentary.
If the request asks for a single thing, return it unchanged on one line.`

// LLMDecomposer asks a chat model for sub-queries. Any failure or empty answer
// falls back to the heuristic.
type LLMDecomposer struct {
	client   *openai.Client
	model    string
	fallback Decomposer
	logger   *zap.Logger
}

// NewLLMDecomposer creates a decomposer backed by an OpenAI-compatible chat API.
// baseURL may be empty for the default endpoint.
func NewLLMDecomposer(apiKey, baseURL, model string, logger *zap.Logger) *LLMDecomposer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDecomposer{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		fallback: HeuristicDecomposer{},
		logger:   logger,
	}
}

// Decompose returns the model's sub-queries, bounded by limit.
func (d *LLMDecomposer) Decompose(ctx context.Context, query string, limit int) ([]string, error) {
	parts, err := d.ask(ctx, query, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		d.logger.Warn("Query decomposition failed, using heuristic", zap.Error(err))
		return d.fallback.Decompose(ctx, query, limit)
	}
	return bound(parts, limit), nil
}

func (d *LLMDecomposer) ask(ctx context.Context, query string, limit int) ([]string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(decomposePrompt, limit)},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	var lines []string
	for _, line := range strings.Split(resp.Choices[0].Message.Content, "\n") {
		lines = append(lines, listMarkerRe.ReplaceAllString(strings.TrimSpace(line), ""))
	}
	parts := splitClean(lines, "")
	if len(parts) == 0 {
		return nil, errors.New("chat completion returned no queries")
	}
	return parts, nil
}
