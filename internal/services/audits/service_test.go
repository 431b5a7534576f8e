package audits

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageaudit/internal/adapters/memory"
	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
)

var now = time.Date(2025, 6, 3, 14, 5, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	audits   *memory.AuditStore
	jobs     *memory.JobQueue
	settings *config.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		audits:   memory.NewAuditStore().WithClock(func() time.Time { return now }),
		jobs:     memory.NewJobQueue(),
		settings: config.NewStore(config.DefaultSettings(), ""),
	}
	content := memory.NewContentStore()
	f.svc = New(f.audits, content, f.jobs, f.settings,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return now }))
	require.NoError(t, f.svc.PutContent(context.Background(), domain.Content{ID: "42", Language: "en", Title: "Balcony tomatoes", HTML: "<p>hi</p>"}, true))
	return f
}

func (f fixture) complete(t *testing.T, id string, scores domain.Scores, critical, major int) {
	t.Helper()
	a, err := f.audits.Get(context.Background(), id)
	require.NoError(t, err)
	a.Status = domain.StatusCompleted
	a.Scores = scores
	a.CriticalCount, a.MajorCount = critical, major
	require.NoError(t, f.audits.Save(context.Background(), a))
}

func TestEnqueueCreatesQueuedAuditAndJob(t *testing.T) {
	f := newFixture(t)

	sub, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{InitiatedBy: "editor"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, sub.Audit.Status)
	assert.Equal(t, "Audit — Balcony tomatoes — 2025-06-03 14:05", sub.Audit.Label)
	assert.Equal(t, "editor", sub.Audit.InitiatedBy)
	assert.False(t, sub.AlreadyPending)
	require.NotEmpty(t, sub.JobID)

	job, found, err := f.jobs.ClaimNext(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sub.Audit.ID, job.AuditID)
}

func TestEnqueueInlineSkipsQueue(t *testing.T) {
	f := newFixture(t)

	sub, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{Inline: true})
	require.NoError(t, err)
	assert.Empty(t, sub.JobID)

	_, found, err := f.jobs.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnqueueWarnsWhenPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{})
	require.NoError(t, err)

	sub, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{})
	require.NoError(t, err)
	assert.True(t, sub.AlreadyPending)
}

func TestEnqueueUnknownContent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enqueue(context.Background(), "nope", "en", SubmitOptions{})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestDailyLimit(t *testing.T) {
	f := newFixture(t)
	s := config.DefaultSettings()
	s.MaxAuditsPerDay = 2
	require.NoError(t, f.settings.Update(s))

	for range 2 {
		_, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{})
		require.NoError(t, err)
	}
	_, err := f.svc.Enqueue(context.Background(), "42", "en", SubmitOptions{})
	assert.ErrorIs(t, err, ErrDailyLimit)
}

func TestPutContentValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.PutContent(ctx, domain.Content{Language: "en", HTML: "x"}, false), ErrInvalidContent)
	assert.ErrorIs(t, f.svc.PutContent(ctx, domain.Content{ID: "1", HTML: "x"}, false), ErrInvalidContent)
	assert.ErrorIs(t, f.svc.PutContent(ctx, domain.Content{ID: "1", Language: "en"}, false), ErrInvalidContent)
	assert.NoError(t, f.svc.PutContent(ctx, domain.Content{ID: "1", Language: "en", URL: "https://example.com/a"}, false))
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.Enqueue(ctx, "42", "en", SubmitOptions{InitiatedBy: "editor"})
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, sub.Audit.ID, SubmitOptions{})
	assert.ErrorIs(t, err, ErrNotRetryable)

	a, err := f.audits.Get(ctx, sub.Audit.ID)
	require.NoError(t, err)
	require.NoError(t, a.Fail("boom"))
	require.NoError(t, f.audits.Save(ctx, a))

	retry, err := f.svc.Retry(ctx, sub.Audit.ID, SubmitOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, sub.Audit.ID, retry.Audit.ID)
	require.NotNil(t, retry.Audit.RetryOf)
	assert.Equal(t, sub.Audit.ID, *retry.Audit.RetryOf)
	assert.Equal(t, "editor", retry.Audit.InitiatedBy)
	assert.Equal(t, domain.StatusQueued, retry.Audit.Status)

	old, err := f.audits.Get(ctx, sub.Audit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, old.Status, "failed audit is never resumed")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.Enqueue(ctx, "42", "en", SubmitOptions{})
	require.NoError(t, err)

	v, err := f.svc.Status(ctx, sub.Audit.ID)
	require.NoError(t, err)
	assert.False(t, v.Completed)
	assert.Nil(t, v.OverallScore)

	f.complete(t, sub.Audit.ID, domain.Scores{Overall: 71, SEO: 60, Accessibility: 90}, 0, 0)
	v, err = f.svc.Status(ctx, sub.Audit.ID)
	require.NoError(t, err)
	assert.True(t, v.Completed)
	require.NotNil(t, v.OverallScore)
	assert.Equal(t, 71, *v.OverallScore)

	_, err = f.svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.Enqueue(ctx, "42", "en", SubmitOptions{})
	require.NoError(t, err)

	r, err := f.svc.Report(ctx, sub.Audit.ID)
	require.NoError(t, err)
	assert.Nil(t, r.Grades)
	assert.Empty(t, r.SEOResults)
	assert.NotEmpty(t, r.AccessibilityDisclaimer)
	assert.NotEmpty(t, r.SEODisclaimer)

	a, err := f.audits.Get(ctx, sub.Audit.ID)
	require.NoError(t, err)
	a.SEOResultsRaw, _ = json.Marshal([]domain.CheckResult{
		{CheckID: "seo_title_presence", Severity: domain.SeverityCritical, MaxPoints: 10},
		{CheckID: "seo_canonical_url", Severity: domain.SeverityPass, MaxPoints: 5, EarnedPoints: 5},
	})
	a.AccessibilityResultsRaw, _ = json.Marshal([]domain.CheckResult{
		{CheckID: "a11y_skip_navigation", Severity: domain.SeverityMinor, MaxPoints: 5},
	})
	require.NoError(t, f.audits.Save(ctx, a))
	f.complete(t, a.ID, domain.Scores{Overall: 92, SEO: 71, Accessibility: 55, ContentQuality: 10}, 1, 0)

	r, err = f.svc.Report(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, r.Grades)
	assert.Equal(t, "A", r.Grades.Overall.Letter)
	assert.Equal(t, "B", r.Grades.SEO.Letter)
	assert.Equal(t, "C", r.Grades.Accessibility.Letter)
	assert.Equal(t, "F", r.Grades.ContentQuality.Letter)
	require.NotNil(t, r.Counts)
	assert.Equal(t, 1, r.Counts.Critical)
	assert.Equal(t, 1, r.Counts.Minor)
	assert.Len(t, r.SEOResults, 2)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Zero(t, d.Audited)
	assert.Nil(t, d.Grade)

	require.NoError(t, f.svc.PutContent(ctx, domain.Content{ID: "43", Language: "en", Title: "Other", HTML: "x"}, true))
	older, err := f.svc.Enqueue(ctx, "42", "en", SubmitOptions{})
	require.NoError(t, err)
	f.complete(t, older.Audit.ID, domain.Scores{Overall: 10, SEO: 10, Accessibility: 10}, 9, 9)
	newer, err := f.svc.Enqueue(ctx, "42", "en", SubmitOptions{})
	require.NoError(t, err)
	f.complete(t, newer.Audit.ID, domain.Scores{Overall: 80, SEO: 70, Accessibility: 91}, 1, 2)
	other, err := f.svc.Enqueue(ctx, "43", "en", SubmitOptions{})
	require.NoError(t, err)
	f.complete(t, other.Audit.ID, domain.Scores{Overall: 65, SEO: 60, Accessibility: 70}, 0, 3)
	_, err = f.svc.Enqueue(ctx, "43", "en", SubmitOptions{})
	require.NoError(t, err)

	d, err = f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Audited)
	assert.Equal(t, 73, d.AverageOverall)
	assert.Equal(t, 65, d.AverageSEO)
	assert.Equal(t, 81, d.AverageAccessibility)
	assert.Equal(t, 1, d.TotalCritical)
	assert.Equal(t, 5, d.TotalMajor)
	require.NotNil(t, d.Grade)
	assert.Equal(t, "B", d.Grade.Letter)
	require.Len(t, d.Rows, 2)
	assert.Equal(t, other.Audit.ID, d.Rows[0].AuditID)

	history, err := f.svc.History(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
