package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pageaudit/internal/adapters/memory"
	"pageaudit/internal/checks"
	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/analysis"
	"pageaudit/internal/services/scoring"
)

const page = `<!DOCTYPE html>
<html lang="en">
<head><title>Growing tomatoes on a balcony</title>
<meta name="description" content="A short guide to growing tomatoes in containers on a small balcony, from seed to harvest."></head>
<body>
<main>
<h1>Growing tomatoes</h1>
<p>Pick a sunny spot and a deep pot.</p>
<img src="/tomato.jpg">
<a href="/guides">More guides</a>
</main>
</body></html>`

// recordingAudits keeps the status written by every Save.
type recordingAudits struct {
	*memory.AuditStore
	mu       sync.Mutex
	statuses []domain.Status
	failSave func(a *domain.AuditRequest) error
}

func (r *recordingAudits) Save(ctx context.Context, a *domain.AuditRequest) error {
	if r.failSave != nil {
		if err := r.failSave(a); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.statuses = append(r.statuses, a.Status)
	r.mu.Unlock()
	return r.AuditStore.Save(ctx, a)
}

type stubRenderer struct{ err error }

func (s stubRenderer) Render(_ context.Context, c domain.Content) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return c.HTML, nil
}

func (stubRenderer) ExtractText(html string) string { return checks.Parse(html).Text() }

type brokenSnapshots struct{}

func (brokenSnapshots) PutSnapshot(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket unreachable")
}

func (brokenSnapshots) GetSnapshot(context.Context, string) ([]byte, error) {
	return nil, ports.ErrNotFound
}

type stubAnalyzer struct {
	res   analysis.Result
	err   error
	input analysis.Input
	calls int
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ config.Settings, in analysis.Input) (analysis.Result, error) {
	s.calls++
	s.input = in
	return s.res, s.err
}

type OrchestratorSuite struct {
	suite.Suite
	ctx       context.Context
	audits    *recordingAudits
	content   *memory.ContentStore
	locker    *memory.Locker
	analyzer  *stubAnalyzer
	renderer  stubRenderer
	snapshots ports.SnapshotStore
	orch      *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.audits = &recordingAudits{AuditStore: memory.NewAuditStore()}
	s.content = memory.NewContentStore()
	s.locker = memory.NewLocker()
	s.analyzer = &stubAnalyzer{res: analysis.Empty()}
	s.renderer = stubRenderer{}
	s.snapshots = memory.NewSnapshotStore()
	s.Require().NoError(s.content.Put(s.ctx, domain.Content{ID: "42", Language: "en", Title: "Tomatoes", HTML: page}, true))
	s.build()
}

func (s *OrchestratorSuite) build() {
	orch, err := New(Deps{
		Audits:   s.audits,
		Content:  s.content,
		Renderer: s.renderer,
		Analyzer: s.analyzer,
		Settings: config.NewStore(config.DefaultSettings(), ""),
		Locker:   s.locker,
	},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSite(checks.Site{Host: "example.com"}),
		WithSnapshots(s.snapshots))
	s.Require().NoError(err)
	s.orch = orch
}

func (s *OrchestratorSuite) queue(contentID string) *domain.AuditRequest {
	a := &domain.AuditRequest{ContentID: contentID, Language: "en", Status: domain.StatusQueued}
	s.Require().NoError(s.audits.Create(s.ctx, a))
	return a
}

func (s *OrchestratorSuite) reload(id string) *domain.AuditRequest {
	a, err := s.audits.Get(s.ctx, id)
	s.Require().NoError(err)
	return a
}

// =============================================================================
// Success path
// =============================================================================

func (s *OrchestratorSuite) TestDeterministicOnlyAuditCompletes() {
	a := s.queue("42")

	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	got := s.reload(a.ID)
	s.Equal(domain.StatusCompleted, got.Status)
	s.Equal([]domain.Status{
		domain.StatusProcessingDeterministic,
		domain.StatusProcessingDeterministic,
		domain.StatusProcessingAI,
		domain.StatusProcessingAI,
		domain.StatusCompleted,
	}, s.audits.statuses)
	s.NotEmpty(got.SEOResultsRaw)
	s.NotEmpty(got.AccessibilityResultsRaw)
	s.JSONEq(`{"content_quality_score":0,"readability_score":0,"keyword_analysis":"","executive_summary":"","issues":[],"tokens_used":0}`, string(got.AIAnalysisRaw))
	s.Zero(got.Scores.ContentQuality)
	s.Empty(got.ErrorMessage)

	doc := checks.Parse(page)
	seo := checks.SEO(doc, checks.Site{Host: "example.com"})
	a11y := checks.Accessibility(doc)
	s.Equal(scoring.CalculateScores(seo, a11y, 0, scoring.WeightsFrom(config.DefaultSettings())), got.Scores)
	counts := scoring.CountBySeverity(append(seo, a11y...))
	s.Equal(counts.Critical, got.CriticalCount)
	s.Equal(counts.Major, got.MajorCount)
	for _, issue := range got.Issues {
		s.NotEqual(domain.SeverityPass, issue.Severity)
	}

	s.Equal("Growing tomatoes on a balcony", s.analyzer.input.MetaTitle)
	s.Contains(s.analyzer.input.Text, "Pick a sunny spot")
	s.Len(s.analyzer.input.SEO, 17)
	s.Len(s.analyzer.input.Accessibility, 14)
}

func (s *OrchestratorSuite) TestAIResultIsStored() {
	s.analyzer.res = analysis.Result{
		ContentQualityScore: 80,
		ExecutiveSummary:    "Useful but short.",
		Issues:              []domain.Issue{{Severity: domain.SeverityCritical, Category: domain.CategoryContent, Title: "Too short"}},
		TokensUsed:          1234,
		ProviderUsed:        "openai__gpt",
		FallbackAttempts:    2,
	}
	a := s.queue("42")

	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	got := s.reload(a.ID)
	s.Equal(domain.StatusCompleted, got.Status)
	s.Equal(80, got.Scores.ContentQuality)
	s.Equal("Useful but short.", got.ExecutiveSummary)
	s.Equal("openai__gpt", got.AIProviderUsed)
	s.Equal(2, got.AIFallbackAttempts)
	s.Equal(1234, got.AITokensUsed)
	var titles []string
	for _, issue := range got.Issues {
		if issue.Category == domain.CategoryContent {
			titles = append(titles, issue.Title)
		}
	}
	s.Equal([]string{"Too short"}, titles)
	s.Equal(domain.SeverityCritical, got.Issues[0].Severity)
}

func (s *OrchestratorSuite) TestRenderedPageIsArchived() {
	a := s.queue("42")
	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	html, err := s.snapshots.GetSnapshot(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(page, string(html))
}

func (s *OrchestratorSuite) TestSnapshotErrorDoesNotFailAudit() {
	s.snapshots = brokenSnapshots{}
	s.build()
	a := s.queue("42")

	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))
	s.Equal(domain.StatusCompleted, s.reload(a.ID).Status)
}

func (s *OrchestratorSuite) TestAIErrorDoesNotFailAudit() {
	s.analyzer.err = errors.New("provider exploded")
	a := s.queue("42")

	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	got := s.reload(a.ID)
	s.Equal(domain.StatusCompleted, got.Status)
	s.Empty(got.ExecutiveSummary)
	s.Zero(got.Scores.ContentQuality)
}

func (s *OrchestratorSuite) TestStepsInOrder() {
	var names []string
	for _, step := range s.orch.Steps() {
		names = append(names, step.Name)
	}
	s.Equal([]string{StepDeterministic, StepAI, StepScoring}, names)
}

// =============================================================================
// Failures
// =============================================================================

func (s *OrchestratorSuite) TestMissingContentFailsFromQueued() {
	a := s.queue("404")

	err := s.orch.RunAudit(s.ctx, a.ID)
	s.ErrorIs(err, ErrAuditFailed)

	got := s.reload(a.ID)
	s.Equal(domain.StatusFailed, got.Status)
	s.Equal(contentNotFound, got.ErrorMessage)
	s.Equal([]domain.Status{domain.StatusFailed}, s.audits.statuses)
	s.Zero(s.analyzer.calls)
}

func (s *OrchestratorSuite) TestRenderErrorFails() {
	s.renderer = stubRenderer{err: errors.New("upstream 503")}
	s.build()
	a := s.queue("42")

	s.ErrorIs(s.orch.RunAudit(s.ctx, a.ID), ErrAuditFailed)

	got := s.reload(a.ID)
	s.Equal(domain.StatusFailed, got.Status)
	s.Contains(got.ErrorMessage, "upstream 503")
}

func (s *OrchestratorSuite) TestScoringSaveErrorFails() {
	s.audits.failSave = func(a *domain.AuditRequest) error {
		if a.Status == domain.StatusCompleted {
			return errors.New("disk full")
		}
		return nil
	}
	a := s.queue("42")

	s.ErrorIs(s.orch.RunAudit(s.ctx, a.ID), ErrAuditFailed)

	got := s.reload(a.ID)
	s.Equal(domain.StatusFailed, got.Status)
	s.Contains(got.ErrorMessage, "disk full")
	s.Equal(domain.Scores{}, got.Scores, "a failed audit carries no scores")
	s.Empty(got.Issues)
	s.Zero(got.CriticalCount)
	s.Zero(got.MajorCount)
	s.NotEmpty(got.SEOResultsRaw, "phase one results were already committed")
}

func (s *OrchestratorSuite) TestTerminalAuditIsRefused() {
	a := s.queue("42")
	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	err := s.orch.RunAudit(s.ctx, a.ID)
	s.ErrorIs(err, domain.ErrTerminal)
	s.Equal(domain.StatusCompleted, s.reload(a.ID).Status)
}

func (s *OrchestratorSuite) TestInterruptedRunIsFailed() {
	a := s.queue("42")
	a.Status = domain.StatusProcessingAI
	s.Require().NoError(s.audits.AuditStore.Save(s.ctx, a))

	s.ErrorIs(s.orch.RunAudit(s.ctx, a.ID), ErrAuditFailed)

	got := s.reload(a.ID)
	s.Equal(domain.StatusFailed, got.Status)
	s.Contains(got.ErrorMessage, "interrupted")
}

func (s *OrchestratorSuite) TestHeldLockIsReported() {
	a := s.queue("42")
	release, err := s.locker.Acquire(s.ctx, lockKey(a.ID))
	s.Require().NoError(err)
	defer release()

	s.ErrorIs(s.orch.RunAudit(s.ctx, a.ID), ports.ErrAlreadyRunning)
	s.Equal(domain.StatusQueued, s.reload(a.ID).Status)
}

func (s *OrchestratorSuite) TestLockReleasedAfterRun() {
	a := s.queue("42")
	s.Require().NoError(s.orch.RunAudit(s.ctx, a.ID))

	release, err := s.locker.Acquire(s.ctx, lockKey(a.ID))
	s.Require().NoError(err)
	release()
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit repository")
}
