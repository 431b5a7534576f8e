// Package audits is the request side of the audit pipeline: it creates audit
// records and serves the status, report and dashboard read models.
package audits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/scoring"
)

const labelTimeLayout = "2006-01-02 15:04"

var (
	ErrDailyLimit     = errors.New("daily audit limit reached")
	ErrNotRetryable   = errors.New("only failed audits can be retried")
	ErrInvalidContent = errors.New("invalid content")
)

// SettingsSource hands out the active settings snapshot.
type SettingsSource interface {
	Get() config.Settings
}

type Service struct {
	audits   ports.AuditRepository
	content  ports.ContentStore
	jobs     ports.JobRepository
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(audits ports.AuditRepository, content ports.ContentStore, jobs ports.JobRepository, settings SettingsSource, opts ...Option) *Service {
	s := &Service{
		audits:   audits,
		content:  content,
		jobs:     jobs,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitOptions controls how a new audit is scheduled.
type SubmitOptions struct {
	InitiatedBy string
	// Inline skips the job queue; the caller runs the audit itself.
	Inline bool
}

// Submission is a freshly created audit.
type Submission struct {
	Audit *domain.AuditRequest
	JobID string
	// AlreadyPending is set when another audit of the same content was still
	// queued or running. The new audit is created regardless.
	AlreadyPending bool
}

// PutContent registers or replaces a language variant of a content item.
func (s *Service) PutContent(ctx context.Context, c domain.Content, isDefault bool) error {
	c.ID = strings.TrimSpace(c.ID)
	c.Language = strings.TrimSpace(c.Language)
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidContent)
	case c.Language == "":
		return fmt.Errorf("%w: language is required", ErrInvalidContent)
	case c.HTML == "" && c.URL == "":
		return fmt.Errorf("%w: html or url is required", ErrInvalidContent)
	}
	return s.content.Put(ctx, c, isDefault)
}

// Enqueue creates a queued audit for a content item. The daily limit counts
// every audit created since the start of the current UTC day.
func (s *Service) Enqueue(ctx context.Context, contentID, language string, opts SubmitOptions) (Submission, error) {
	content, err := s.content.Load(ctx, contentID, language)
	if err != nil {
		return Submission{}, fmt.Errorf("load content %s: %w", contentID, err)
	}
	return s.submit(ctx, content, language, opts, nil)
}

// Retry creates a new queued audit for the content of a failed audit. The
// failed record itself is never resumed.
func (s *Service) Retry(ctx context.Context, auditID string, opts SubmitOptions) (Submission, error) {
	prev, err := s.audits.Get(ctx, auditID)
	if err != nil {
		return Submission{}, fmt.Errorf("load audit %s: %w", auditID, err)
	}
	if prev.Status != domain.StatusFailed {
		return Submission{}, fmt.Errorf("audit %s is %s: %w", auditID, prev.Status, ErrNotRetryable)
	}
	content, err := s.content.Load(ctx, prev.ContentID, prev.Language)
	if err != nil {
		return Submission{}, fmt.Errorf("load content %s: %w", prev.ContentID, err)
	}
	if opts.InitiatedBy == "" {
		opts.InitiatedBy = prev.InitiatedBy
	}
	return s.submit(ctx, content, prev.Language, opts, &prev.ID)
}

func (s *Service) submit(ctx context.Context, content domain.Content, language string, opts SubmitOptions, retryOf *string) (Submission, error) {
	now := s.now().UTC()
	if limit := s.settings.Get().MaxAuditsPerDay; limit > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := s.audits.CountCreatedSince(ctx, startOfDay)
		if err != nil {
			return Submission{}, fmt.Errorf("count audits: %w", err)
		}
		if n >= limit {
			return Submission{}, fmt.Errorf("%d of %d audits used today: %w", n, limit, ErrDailyLimit)
		}
	}

	pending, err := s.audits.HasPending(ctx, content.ID, language)
	if err != nil {
		return Submission{}, fmt.Errorf("check pending audits: %w", err)
	}
	if pending {
		s.logger.WarnContext(ctx, "an audit is already queued or in progress for this content",
			"content_id", content.ID, "language", language)
	}

	audit := &domain.AuditRequest{
		ContentID:   content.ID,
		Language:    language,
		Label:       Label(content.Title, now),
		InitiatedBy: opts.InitiatedBy,
		Status:      domain.StatusQueued,
		RetryOf:     retryOf,
	}
	if err := s.audits.Create(ctx, audit); err != nil {
		return Submission{}, fmt.Errorf("create audit: %w", err)
	}
	sub := Submission{Audit: audit, AlreadyPending: pending}
	if !opts.Inline {
		if sub.JobID, err = s.jobs.Enqueue(ctx, audit.ID); err != nil {
			return Submission{}, fmt.Errorf("enqueue audit %s: %w", audit.ID, err)
		}
	}
	s.logger.InfoContext(ctx, "audit queued",
		"audit_id", audit.ID, "content_id", content.ID, "language", language, "inline", opts.Inline)
	return sub, nil
}

// Label names an audit after its content and creation time.
func Label(title string, at time.Time) string {
	return fmt.Sprintf("Audit — %s — %s", title, at.Format(labelTimeLayout))
}

func (s *Service) Get(ctx context.Context, auditID string) (*domain.AuditRequest, error) {
	return s.audits.Get(ctx, auditID)
}

func (s *Service) Status(ctx context.Context, auditID string) (domain.StatusView, error) {
	a, err := s.audits.Get(ctx, auditID)
	if err != nil {
		return domain.StatusView{}, err
	}
	return a.View(), nil
}

// Grades holds the letter band of each score.
type Grades struct {
	Overall        domain.Grade `json:"overall"`
	SEO            domain.Grade `json:"seo"`
	Accessibility  domain.Grade `json:"accessibility"`
	ContentQuality domain.Grade `json:"content_quality"`
}

func gradesOf(sc domain.Scores) Grades {
	return Grades{
		Overall:        scoring.GetGrade(sc.Overall),
		SEO:            scoring.GetGrade(sc.SEO),
		Accessibility:  scoring.GetGrade(sc.Accessibility),
		ContentQuality: scoring.GetGrade(sc.ContentQuality),
	}
}

// Report is the full read model of one audit.
type Report struct {
	Audit *domain.AuditRequest
	// Grades and Counts are only set for completed audits.
	Grades                  *Grades
	Counts                  *scoring.SeverityCounts
	SEOResults              []domain.CheckResult
	AccessibilityResults    []domain.CheckResult
	AccessibilityDisclaimer string
	SEODisclaimer           string
}

func (s *Service) Report(ctx context.Context, auditID string) (Report, error) {
	a, err := s.audits.Get(ctx, auditID)
	if err != nil {
		return Report{}, err
	}
	settings := s.settings.Get()
	r := Report{
		Audit:                   a,
		AccessibilityDisclaimer: settings.AccessibilityDisclaimer,
		SEODisclaimer:           settings.SEODisclaimer,
	}
	if r.SEOResults, err = decodeResults(a.SEOResultsRaw); err != nil {
		return Report{}, fmt.Errorf("decode seo results of %s: %w", a.ID, err)
	}
	if r.AccessibilityResults, err = decodeResults(a.AccessibilityResultsRaw); err != nil {
		return Report{}, fmt.Errorf("decode accessibility results of %s: %w", a.ID, err)
	}
	if a.Status == domain.StatusCompleted {
		g := gradesOf(a.Scores)
		counts := scoring.CountBySeverity(append(append([]domain.CheckResult{}, r.SEOResults...), r.AccessibilityResults...))
		r.Grades, r.Counts = &g, &counts
	}
	return r, nil
}

func decodeResults(raw json.RawMessage) ([]domain.CheckResult, error) {
	if len(raw) == 0 {
		return []domain.CheckResult{}, nil
	}
	var out []domain.CheckResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History lists every audit of a content item, newest first.
func (s *Service) History(ctx context.Context, contentID string) ([]domain.AuditRequest, error) {
	return s.audits.ListByContent(ctx, contentID)
}

// DashboardRow is the latest completed audit of one content item.
type DashboardRow struct {
	AuditID       string
	ContentID     string
	Language      string
	Label         string
	Scores        domain.Scores
	CriticalCount int
	MajorCount    int
	Grade         domain.Grade
	CompletedAt   time.Time
}

// Dashboard aggregates the latest completed audit of every content item.
type Dashboard struct {
	Audited              int
	AverageOverall       int
	AverageSEO           int
	AverageAccessibility int
	TotalCritical        int
	TotalMajor           int
	// Grade bands AverageOverall; nil when nothing has been audited.
	Grade *domain.Grade
	Rows  []DashboardRow
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	latest, err := s.audits.LatestCompleted(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load completed audits: %w", err)
	}
	d := Dashboard{Audited: len(latest), Rows: make([]DashboardRow, 0, len(latest))}
	if len(latest) == 0 {
		return d, nil
	}
	var overall, seo, a11y int
	for _, a := range latest {
		overall += a.Scores.Overall
		seo += a.Scores.SEO
		a11y += a.Scores.Accessibility
		d.TotalCritical += a.CriticalCount
		d.TotalMajor += a.MajorCount
		d.Rows = append(d.Rows, DashboardRow{
			AuditID:       a.ID,
			ContentID:     a.ContentID,
			Language:      a.Language,
			Label:         a.Label,
			Scores:        a.Scores,
			CriticalCount: a.CriticalCount,
			MajorCount:    a.MajorCount,
			Grade:         scoring.GetGrade(a.Scores.Overall),
			CompletedAt:   a.UpdatedAt,
		})
	}
	n := float64(len(latest))
	d.AverageOverall = int(math.Round(float64(overall) / n))
	d.AverageSEO = int(math.Round(float64(seo) / n))
	d.AverageAccessibility = int(math.Round(float64(a11y) / n))
	g := scoring.GetGrade(d.AverageOverall)
	d.Grade = &g
	return d, nil
}
