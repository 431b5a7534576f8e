package httpadapter

import (
	"encoding/json"
	"time"

	"pageaudit/internal/domain"
	"pageaudit/internal/services/audits"
	"pageaudit/internal/services/scoring"
)

// HTTP payloads. Domain types stay free of wire tags where they can.

type auditResponse struct {
	ID                  string          `json:"id"`
	ContentID           string          `json:"content_id"`
	Language            string          `json:"language"`
	Label               string          `json:"label"`
	InitiatedBy         string          `json:"initiated_by,omitempty"`
	Status              domain.Status   `json:"status"`
	OverallScore        int             `json:"overall_score"`
	SEOScore            int             `json:"seo_score"`
	AccessibilityScore  int             `json:"accessibility_score"`
	ContentQualityScore int             `json:"content_quality_score"`
	ExecutiveSummary    string          `json:"executive_summary,omitempty"`
	Issues              []domain.Issue  `json:"issues"`
	CriticalCount       int             `json:"critical_count"`
	MajorCount          int             `json:"major_count"`
	Error               string          `json:"error,omitempty"`
	AIProviderUsed      string          `json:"ai_provider_used,omitempty"`
	AIFallbackAttempts  int             `json:"ai_fallback_attempts,omitempty"`
	AITokensUsed        int             `json:"ai_tokens_used,omitempty"`
	AIAnalysis          json.RawMessage `json:"ai_analysis,omitempty"`
	RetryOf             *string         `json:"retry_of,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func toAuditResponse(a *domain.AuditRequest) auditResponse {
	issues := a.Issues
	if issues == nil {
		issues = []domain.Issue{}
	}
	return auditResponse{
		ID:                  a.ID,
		ContentID:           a.ContentID,
		Language:            a.Language,
		Label:               a.Label,
		InitiatedBy:         a.InitiatedBy,
		Status:              a.Status,
		OverallScore:        a.Scores.Overall,
		SEOScore:            a.Scores.SEO,
		AccessibilityScore:  a.Scores.Accessibility,
		ContentQualityScore: a.Scores.ContentQuality,
		ExecutiveSummary:    a.ExecutiveSummary,
		Issues:              issues,
		CriticalCount:       a.CriticalCount,
		MajorCount:          a.MajorCount,
		Error:               a.ErrorMessage,
		AIProviderUsed:      a.AIProviderUsed,
		AIFallbackAttempts:  a.AIFallbackAttempts,
		AITokensUsed:        a.AITokensUsed,
		AIAnalysis:          a.AIAnalysisRaw,
		RetryOf:             a.RetryOf,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type disclaimers struct {
	Accessibility string `json:"accessibility"`
	SEO           string `json:"seo"`
}

type reportResponse struct {
	Audit                auditResponse           `json:"audit"`
	Grades               *audits.Grades          `json:"grades,omitempty"`
	SeverityCounts       *scoring.SeverityCounts `json:"severity_counts,omitempty"`
	SEOResults           []domain.CheckResult    `json:"seo_results"`
	AccessibilityResults []domain.CheckResult    `json:"accessibility_results"`
	Disclaimers          disclaimers             `json:"disclaimers"`
	// RetryURL is set on failed audits.
	RetryURL string `json:"retry_url,omitempty"`
}

func toReportResponse(r audits.Report) reportResponse {
	out := reportResponse{
		Audit:                toAuditResponse(r.Audit),
		Grades:               r.Grades,
		SeverityCounts:       r.Counts,
		SEOResults:           r.SEOResults,
		AccessibilityResults: r.AccessibilityResults,
		Disclaimers:          disclaimers{Accessibility: r.AccessibilityDisclaimer, SEO: r.SEODisclaimer},
	}
	if r.Audit.Status == domain.StatusFailed {
		out.RetryURL = "/audits/" + r.Audit.ID + "/retry"
	}
	return out
}

type dashboardRow struct {
	AuditID            string       `json:"audit_id"`
	ContentID          string       `json:"content_id"`
	Language           string       `json:"language"`
	Label              string       `json:"label"`
	OverallScore       int          `json:"overall_score"`
	SEOScore           int          `json:"seo_score"`
	AccessibilityScore int          `json:"accessibility_score"`
	CriticalCount      int          `json:"critical_count"`
	MajorCount         int          `json:"major_count"`
	Grade              domain.Grade `json:"grade"`
	CompletedAt        time.Time    `json:"completed_at"`
}

type dashboardResponse struct {
	Audited              int            `json:"audited"`
	AverageOverall       int            `json:"average_overall_score"`
	AverageSEO           int            `json:"average_seo_score"`
	AverageAccessibility int            `json:"average_accessibility_score"`
	TotalCritical        int            `json:"total_critical"`
	TotalMajor           int            `json:"total_major"`
	Grade                *domain.Grade  `json:"grade,omitempty"`
	Audits               []dashboardRow `json:"audits"`
}

func toDashboardResponse(d audits.Dashboard) dashboardResponse {
	out := dashboardResponse{
		Audited:              d.Audited,
		AverageOverall:       d.AverageOverall,
		AverageSEO:           d.AverageSEO,
		AverageAccessibility: d.AverageAccessibility,
		TotalCritical:        d.TotalCritical,
		TotalMajor:           d.TotalMajor,
		Grade:                d.Grade,
		Audits:               make([]dashboardRow, 0, len(d.Rows)),
	}
	for _, r := range d.Rows {
		out.Audits = append(out.Audits, dashboardRow{
			AuditID:            r.AuditID,
			ContentID:          r.ContentID,
			Language:           r.Language,
			Label:              r.Label,
			OverallScore:       r.Scores.Overall,
			SEOScore:           r.Scores.SEO,
			AccessibilityScore: r.Scores.Accessibility,
			CriticalCount:      r.CriticalCount,
			MajorCount:         r.MajorCount,
			Grade:              r.Grade,
			CompletedAt:        r.CompletedAt,
		})
	}
	return out
}
