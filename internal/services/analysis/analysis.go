// Package analysis asks an AI provider to judge content quality and
// summarize the deterministic findings.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/fallback"
)

// Input is what the analysis sees of a page.
type Input struct {
	Text            string
	MetaTitle       string
	MetaDescription string
	SEO             []domain.CheckResult
	Accessibility   []domain.CheckResult
}

// Result is the decoded AI analysis plus usage bookkeeping.
type Result struct {
	ContentQualityScore int            `json:"content_quality_score"`
	ReadabilityScore    int            `json:"readability_score"`
	KeywordAnalysis     string         `json:"keyword_analysis"`
	ExecutiveSummary    string         `json:"executive_summary"`
	Issues              []domain.Issue `json:"issues"`
	TokensUsed          int            `json:"tokens_used"`
	ProviderUsed        string         `json:"provider_used,omitempty"`
	FallbackAttempts    int            `json:"fallback_attempts,omitempty"`
}

// Empty is the result substituted when AI is disabled or unavailable.
func Empty() Result {
	return Result{Issues: []domain.Issue{}}
}

var ErrUnknownProvider = errors.New("unknown AI provider")

type Analyzer struct {
	providers ports.ProviderRegistry
	engine    *fallback.Engine
	logger    *slog.Logger
}

type Option func(*Analyzer)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

func New(providers ports.ProviderRegistry, engine *fallback.Engine, opts ...Option) (*Analyzer, error) {
	if providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if engine == nil {
		return nil, errors.New("fallback engine is required")
	}
	a := &Analyzer{providers: providers, engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze runs the AI analysis under the given settings snapshot. Disabled AI
// and an exhausted provider chain both yield Empty without error. With
// fallback turned off the single default provider is used and its error is
// returned.
func (a *Analyzer) Analyze(ctx context.Context, s config.Settings, in Input) (Result, error) {
	if !s.AIEnabled {
		return Empty(), nil
	}
	if s.ProviderFallbackEnabled {
		return a.runWithFallback(ctx, s, in), nil
	}
	return a.runSingleProvider(ctx, s, in)
}

func (a *Analyzer) runWithFallback(ctx context.Context, s config.Settings, in Input) Result {
	policy := fallback.PolicyFrom(s, config.OperationChatJSON)
	out := fallback.ExecuteWithFallback(ctx, a.engine, policy,
		func(ctx context.Context, providerID, modelID string) (Result, error) {
			return a.analyzeWith(ctx, s, providerID, modelID, in)
		})
	if !out.Success {
		a.logger.ErrorContext(ctx, "all AI providers failed",
			"attempts", out.Attempts, "error", out.LastError)
		return Empty()
	}
	res := out.Data
	res.ProviderUsed = out.ProviderUsed
	res.FallbackAttempts = out.Attempts
	return res
}

func (a *Analyzer) runSingleProvider(ctx context.Context, s config.Settings, in Input) (Result, error) {
	ref, ok := s.DefaultProvider(config.OperationChatJSON)
	if !ok {
		a.logger.WarnContext(ctx, "no AI provider configured, running deterministic-only audit",
			"operation", config.OperationChatJSON)
		return Empty(), nil
	}
	res, err := a.analyzeWith(ctx, s, ref.ProviderID, ref.ModelID, in)
	if err != nil {
		a.logger.ErrorContext(ctx, "AI analysis failed", "provider", fallback.ProviderKey(ref.ProviderID, ref.ModelID), "error", err)
		return Result{}, err
	}
	res.ProviderUsed = fallback.ProviderKey(ref.ProviderID, ref.ModelID)
	return res, nil
}

func (a *Analyzer) analyzeWith(ctx context.Context, s config.Settings, providerID, modelID string, in Input) (Result, error) {
	provider, ok := a.providers.Provider(providerID)
	if !ok {
		return Result{}, fallback.NewProviderError(fallback.BadRequest, providerID, "provider not registered", ErrUnknownProvider)
	}

	msg, err := buildUserMessage(in, truncate(in.Text, s.MaxContentLengthForAI))
	if err != nil {
		return Result{}, err
	}
	text, err := provider.Chat(ctx, ports.ChatRequest{
		ModelID:      modelID,
		SystemPrompt: systemPrompt,
		UserMessage:  msg,
		JSONSchema:   outputSchema,
		MaxTokens:    s.MaxTokensPerAudit,
	})
	if err != nil {
		return Result{}, err
	}

	res, err := decode(text)
	if err != nil {
		return Result{}, fallback.NewProviderError(fallback.ResponseError, providerID, "AI response was not valid JSON", err)
	}
	res.TokensUsed = utf8.RuneCountInString(msg) + utf8.RuneCountInString(text)
	return res, nil
}

// decode parses a response strictly: it must be a JSON object carrying every
// required field with the right type.
func decode(text string) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Result{}, err
	}
	for _, f := range requiredFields {
		if v, ok := fields[f]; !ok || string(v) == "null" {
			return Result{}, fmt.Errorf("missing required field %q", f)
		}
	}
	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return Result{}, err
	}
	res.ContentQualityScore = clamp(res.ContentQualityScore)
	res.ReadabilityScore = clamp(res.ReadabilityScore)
	if res.Issues == nil {
		res.Issues = []domain.Issue{}
	}
	for i := range res.Issues {
		res.Issues[i].Category = domain.CategoryContent
		res.Issues[i].CheckID = ""
	}
	// bookkeeping fields are never taken from the provider
	res.TokensUsed, res.ProviderUsed, res.FallbackAttempts = 0, "", 0
	return res, nil
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func clamp(v int) int { return min(100, max(0, v)) }
