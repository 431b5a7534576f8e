package domain

import (
	"encoding/json"
	"time"
)

// Core domain models used internally. HTTP payloads live in the http adapter;
// keep these decoupled where helpful.

// Content is a single auditable page in one language variant.
type Content struct {
	ID       string
	Language string
	Title    string
	URL      string
	HTML     string // pre-rendered document, optional
}

type Category string

const (
	CategorySEO           Category = "seo"
	CategoryAccessibility Category = "accessibility"
	CategoryContent       Category = "content"
)

// CheckResult is the outcome of one deterministic rule. Invariant:
// 0 <= EarnedPoints <= MaxPoints.
type CheckResult struct {
	CheckID        string   `json:"checkId"`
	Category       Category `json:"category"`
	WCAG           string   `json:"wcag,omitempty"`
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	MaxPoints      int      `json:"maxPoints"`
	EarnedPoints   int      `json:"earnedPoints"`
}

// Issue converts a check result into its report shape.
func (r CheckResult) Issue() Issue {
	return Issue{
		CheckID:        r.CheckID,
		Severity:       r.Severity,
		Category:       r.Category,
		WCAG:           r.WCAG,
		Title:          r.Title,
		Description:    r.Description,
		Recommendation: r.Recommendation,
	}
}

// Issue is a single reportable finding, deterministic or AI-sourced.
type Issue struct {
	CheckID        string   `json:"checkId,omitempty"`
	Severity       Severity `json:"severity"`
	Category       Category `json:"category,omitempty"`
	WCAG           string   `json:"wcag,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// ProviderChainEntry is one provider/model pair in the AI fallback chain.
// Lower weight means higher priority.
type ProviderChainEntry struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Weight     int    `json:"weight"`
	Enabled    bool   `json:"enabled"`
}

// Scores are the four normalized sub-scores, each within [0,100].
type Scores struct {
	SEO            int `json:"seo_score"`
	Accessibility  int `json:"accessibility_score"`
	ContentQuality int `json:"content_quality_score"`
	Overall        int `json:"overall_score"`
}

// AuditRequest is the persisted lifecycle record of one audit.
type AuditRequest struct {
	ID                      string
	ContentID               string
	Language                string
	Label                   string
	InitiatedBy             string
	Status                  Status
	Scores                  Scores
	SEOResultsRaw           json.RawMessage
	AccessibilityResultsRaw json.RawMessage
	AIAnalysisRaw           json.RawMessage
	ExecutiveSummary        string
	Issues                  []Issue
	CriticalCount           int
	MajorCount              int
	ErrorMessage            string
	AIProviderUsed          string
	AIFallbackAttempts      int
	AITokensUsed            int
	RetryOf                 *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Fail moves a non-terminal audit to failed with the captured message.
func (a *AuditRequest) Fail(reason string) error {
	if err := a.Transition(StatusFailed); err != nil {
		return err
	}
	a.ErrorMessage = reason
	return nil
}

// StatusView is the polling read model.
type StatusView struct {
	ID                 string  `json:"id"`
	Status             Status  `json:"status"`
	Completed          bool    `json:"completed"`
	OverallScore       *int    `json:"overall_score,omitempty"`
	SEOScore           *int    `json:"seo_score,omitempty"`
	AccessibilityScore *int    `json:"accessibility_score,omitempty"`
	Error              *string `json:"error,omitempty"`
}

// View builds the polling read model. Scores are only exposed once completed.
func (a *AuditRequest) View() StatusView {
	v := StatusView{ID: a.ID, Status: a.Status, Completed: a.Status.Terminal()}
	switch a.Status {
	case StatusCompleted:
		overall, seo, a11y := a.Scores.Overall, a.Scores.SEO, a.Scores.Accessibility
		v.OverallScore, v.SEOScore, v.AccessibilityScore = &overall, &seo, &a11y
	case StatusFailed:
		msg := a.ErrorMessage
		v.Error = &msg
	}
	return v
}

// Grade is a letter band for a score.
type Grade struct {
	Letter string `json:"grade"`
	Label  string `json:"label"`
	Color  string `json:"color"`
}
