// Package scoring turns check results and the AI content score into
// sub-scores, an overall weighted score and a prioritized issue list.
package scoring

import (
	"math"
	"slices"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
)

// Weights are the ratio and weight settings the engine reads. They are
// validated to sum to 1.0 at configuration time, not here.
type Weights struct {
	SEODeterministicRatio float64
	SEOAIRatio            float64
	SEO                   float64
	Accessibility         float64
	ContentQuality        float64
}

// WeightsFrom extracts the scoring weights from a settings snapshot.
func WeightsFrom(s config.Settings) Weights {
	return Weights{
		SEODeterministicRatio: s.SEODeterministicRatio,
		SEOAIRatio:            s.SEOAIRatio,
		SEO:                   s.SEOWeight,
		Accessibility:         s.AccessibilityWeight,
		ContentQuality:        s.ContentQualityWeight,
	}
}

// CalculateScores computes all four scores, each clamped to [0,100].
func CalculateScores(seo, a11y []domain.CheckResult, aiContentQuality int, w Weights) domain.Scores {
	detSEO := percentage(seo)
	seoScore := round(detSEO*w.SEODeterministicRatio + float64(aiContentQuality)*w.SEOAIRatio)
	a11yScore := round(percentage(a11y))
	overall := round(float64(seoScore)*w.SEO + float64(a11yScore)*w.Accessibility + float64(aiContentQuality)*w.ContentQuality)

	return domain.Scores{
		SEO:            clamp(seoScore),
		Accessibility:  clamp(a11yScore),
		ContentQuality: clamp(aiContentQuality),
		Overall:        clamp(overall),
	}
}

// percentage is 100*earned/max over a suite, 0 when the suite has no points.
func percentage(results []domain.CheckResult) float64 {
	earned, max := 0, 0
	for _, r := range results {
		earned += r.EarnedPoints
		max += r.MaxPoints
	}
	if max <= 0 {
		return 0
	}
	return float64(earned) / float64(max) * 100
}

func round(v float64) int { return int(math.Round(v)) }

func clamp(v int) int { return min(100, max(0, v)) }

// SeverityCounts tallies non-pass severities.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Major    int `json:"major"`
	Minor    int `json:"minor"`
	Info     int `json:"info"`
}

func CountBySeverity(results []domain.CheckResult) SeverityCounts {
	var c SeverityCounts
	for _, r := range results {
		switch r.Severity {
		case domain.SeverityCritical:
			c.Critical++
		case domain.SeverityMajor:
			c.Major++
		case domain.SeverityMinor:
			c.Minor++
		case domain.SeverityInfo:
			c.Info++
		}
	}
	return c
}

// MergeAndPrioritize concatenates the failing deterministic results with the
// AI issues and stable-sorts them by severity rank. Unknown severities sink
// to the bottom; equal ranks keep their input order.
func MergeAndPrioritize(seo, a11y []domain.CheckResult, ai []domain.Issue) []domain.Issue {
	out := make([]domain.Issue, 0, len(seo)+len(a11y)+len(ai))
	for _, r := range slices.Concat(seo, a11y) {
		if r.Severity == domain.SeverityPass {
			continue
		}
		out = append(out, r.Issue())
	}
	out = append(out, ai...)
	slices.SortStableFunc(out, func(a, b domain.Issue) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
	return out
}

// GetGrade bands a score into a letter grade.
func GetGrade(score int) domain.Grade {
	switch {
	case score >= 90:
		return domain.Grade{Letter: "A", Label: "Excellent", Color: "green"}
	case score >= 70:
		return domain.Grade{Letter: "B", Label: "Good", Color: "lightgreen"}
	case score >= 50:
		return domain.Grade{Letter: "C", Label: "Needs Improvement", Color: "yellow"}
	case score >= 30:
		return domain.Grade{Letter: "D", Label: "Poor", Color: "orange"}
	default:
		return domain.Grade{Letter: "F", Label: "Critical", Color: "red"}
	}
}
