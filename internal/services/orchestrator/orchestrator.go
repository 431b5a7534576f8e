// Package orchestrator drives one audit through its three phases:
// deterministic checks, AI analysis and scoring. Each phase persists the new
// status before it starts working, so pollers always see where an audit is.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pageaudit/internal/checks"
	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/metrics"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/analysis"
	"pageaudit/internal/services/scoring"
)

// Step names recorded as job checkpoints.
const (
	StepDeterministic = "deterministic"
	StepAI            = "ai"
	StepScoring       = "scoring"
)

const contentNotFound = "content not found"

// ErrAuditFailed wraps the cause of an audit that ended in the failed state.
var ErrAuditFailed = errors.New("audit failed")

// SettingsSource hands out the active settings snapshot.
type SettingsSource interface {
	Get() config.Settings
}

// Analyzer runs the AI phase.
type Analyzer interface {
	Analyze(ctx context.Context, s config.Settings, in analysis.Input) (analysis.Result, error)
}

type Orchestrator struct {
	audits    ports.AuditRepository
	content   ports.ContentStore
	renderer  ports.Renderer
	analyzer  Analyzer
	settings  SettingsSource
	locker    ports.Locker
	site      checks.Site
	snapshots ports.SnapshotStore

	flight  singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSite sets the host used to tell internal from external links.
func WithSite(site checks.Site) Option {
	return func(o *Orchestrator) { o.site = site }
}

// WithSnapshots archives every rendered page under its audit id.
func WithSnapshots(store ports.SnapshotStore) Option {
	return func(o *Orchestrator) { o.snapshots = store }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Deps are the collaborators an Orchestrator cannot run without.
type Deps struct {
	Audits   ports.AuditRepository
	Content  ports.ContentStore
	Renderer ports.Renderer
	Analyzer Analyzer
	Settings SettingsSource
	Locker   ports.Locker
}

func New(d Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case d.Audits == nil:
		return nil, errors.New("audit repository is required")
	case d.Content == nil:
		return nil, errors.New("content store is required")
	case d.Renderer == nil:
		return nil, errors.New("renderer is required")
	case d.Analyzer == nil:
		return nil, errors.New("analyzer is required")
	case d.Settings == nil:
		return nil, errors.New("settings source is required")
	case d.Locker == nil:
		return nil, errors.New("locker is required")
	}
	o := &Orchestrator{
		audits:   d.Audits,
		content:  d.Content,
		renderer: d.Renderer,
		analyzer: d.Analyzer,
		settings: d.Settings,
		locker:   d.Locker,
		logger:   slog.Default(),
		tracer:   otel.Tracer("pageaudit/orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run is the state carried between the phases of one audit.
type Run struct {
	Audit    *domain.AuditRequest
	Settings config.Settings

	html          string
	text          string
	metaTitle     string
	metaDesc      string
	seo           []domain.CheckResult
	accessibility []domain.CheckResult
	ai            analysis.Result
}

// Step is one named phase of a run.
type Step struct {
	Name string
	Do   func(ctx context.Context, run *Run) error
}

// Steps lists the phases in execution order.
func (o *Orchestrator) Steps() []Step {
	return []Step{
		{Name: StepDeterministic, Do: o.RunDeterministic},
		{Name: StepAI, Do: o.RunAI},
		{Name: StepScoring, Do: o.Score},
	}
}

// RunAudit processes an audit to a terminal state. Concurrent calls for the
// same id within this process share one execution; a holder in another
// process yields ports.ErrAlreadyRunning.
func (o *Orchestrator) RunAudit(ctx context.Context, auditID string) error {
	_, err, _ := o.flight.Do(auditID, func() (any, error) {
		run, release, err := o.Begin(ctx, auditID)
		if err != nil {
			return nil, err
		}
		defer release()
		for _, step := range o.Steps() {
			if err := step.Do(ctx, run); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Begin takes the per-audit lock, loads the record and snapshots the
// settings. The caller must invoke release once the run is over.
func (o *Orchestrator) Begin(ctx context.Context, auditID string) (*Run, func(), error) {
	release, err := o.locker.Acquire(ctx, lockKey(auditID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock audit %s: %w", auditID, err)
	}
	audit, err := o.audits.Get(ctx, auditID)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("load audit %s: %w", auditID, err)
	}
	if audit.Status.Terminal() {
		release()
		return nil, nil, fmt.Errorf("audit %s is %s: %w", auditID, audit.Status, domain.ErrTerminal)
	}
	run := &Run{Audit: audit, Settings: o.settings.Get()}
	if audit.Status != domain.StatusQueued {
		// nobody else holds the lock, so a processing state was left by a
		// run that died midway
		err := o.fail(ctx, run, fmt.Errorf("processing interrupted during %s", audit.Status))
		release()
		return nil, nil, err
	}
	return run, release, nil
}

func lockKey(auditID string) string { return "audit:" + auditID }

// RunDeterministic loads and renders the content, then runs both check
// suites. Missing content fails the audit straight from queued.
func (o *Orchestrator) RunDeterministic(ctx context.Context, run *Run) (err error) {
	ctx, finish := o.phase(ctx, StepDeterministic, run)
	defer func() { finish(err) }()

	a := run.Audit
	content, err := o.content.Load(ctx, a.ContentID, a.Language)
	if errors.Is(err, ports.ErrNotFound) {
		return o.fail(ctx, run, errors.New(contentNotFound))
	}
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("load content: %w", err))
	}

	if err := a.Transition(domain.StatusProcessingDeterministic); err != nil {
		return err
	}
	if err := o.audits.Save(ctx, a); err != nil {
		return o.fail(ctx, run, fmt.Errorf("save status: %w", err))
	}

	html, err := o.renderer.Render(ctx, content)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("render content: %w", err))
	}
	o.archive(ctx, a.ID, html)
	doc := checks.Parse(html)
	run.html = html
	run.text = o.renderer.ExtractText(html)
	run.metaTitle = doc.MetaTitle()
	run.metaDesc = doc.MetaDescription()

	var g errgroup.Group
	g.Go(func() error {
		run.seo = checks.SEO(doc, o.site)
		return nil
	})
	g.Go(func() error {
		run.accessibility = checks.Accessibility(doc)
		return nil
	})
	_ = g.Wait()

	if a.SEOResultsRaw, err = json.Marshal(run.seo); err != nil {
		return o.fail(ctx, run, fmt.Errorf("encode seo results: %w", err))
	}
	if a.AccessibilityResultsRaw, err = json.Marshal(run.accessibility); err != nil {
		return o.fail(ctx, run, fmt.Errorf("encode accessibility results: %w", err))
	}
	if err := o.audits.Save(ctx, a); err != nil {
		return o.fail(ctx, run, fmt.Errorf("save check results: %w", err))
	}
	return nil
}

// archive stores the rendered page. Failures are logged and never fail the
// audit.
func (o *Orchestrator) archive(ctx context.Context, auditID, html string) {
	if o.snapshots == nil {
		return
	}
	key, err := o.snapshots.PutSnapshot(ctx, auditID, []byte(html))
	if err != nil {
		o.logger.WarnContext(ctx, "archive rendered page", "audit_id", auditID, "error", err)
		return
	}
	o.logger.DebugContext(ctx, "rendered page archived", "audit_id", auditID, "key", key)
}

// RunAI asks the analyzer for a content judgement. It never fails the audit:
// any error is logged and the empty result is used instead.
func (o *Orchestrator) RunAI(ctx context.Context, run *Run) (err error) {
	ctx, finish := o.phase(ctx, StepAI, run)
	defer func() { finish(err) }()

	a := run.Audit
	if err := a.Transition(domain.StatusProcessingAI); err != nil {
		return err
	}
	if err := o.audits.Save(ctx, a); err != nil {
		return o.fail(ctx, run, fmt.Errorf("save status: %w", err))
	}

	res, aiErr := o.analyzer.Analyze(ctx, run.Settings, analysis.Input{
		Text:            run.text,
		MetaTitle:       run.metaTitle,
		MetaDescription: run.metaDesc,
		SEO:             run.seo,
		Accessibility:   run.accessibility,
	})
	if aiErr != nil {
		o.logger.WarnContext(ctx, "AI analysis failed, continuing with deterministic results",
			"audit_id", a.ID, "error", aiErr)
		res = analysis.Empty()
	}
	run.ai = res

	raw, err := json.Marshal(res)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("encode ai analysis: %w", err))
	}
	a.AIAnalysisRaw = raw
	a.ExecutiveSummary = res.ExecutiveSummary
	a.AIProviderUsed = res.ProviderUsed
	a.AIFallbackAttempts = res.FallbackAttempts
	a.AITokensUsed = res.TokensUsed
	o.metrics.AddTokens(res.TokensUsed)

	if err := o.audits.Save(ctx, a); err != nil {
		return o.fail(ctx, run, fmt.Errorf("save ai analysis: %w", err))
	}
	return nil
}

// Score computes the sub-scores and the prioritized issue list and completes
// the audit. Severity counts cover deterministic findings only.
func (o *Orchestrator) Score(ctx context.Context, run *Run) (err error) {
	ctx, finish := o.phase(ctx, StepScoring, run)
	defer func() { finish(err) }()

	a := run.Audit
	scores := scoring.CalculateScores(run.seo, run.accessibility, run.ai.ContentQualityScore, scoring.WeightsFrom(run.Settings))
	issues := scoring.MergeAndPrioritize(run.seo, run.accessibility, run.ai.Issues)
	counts := scoring.CountBySeverity(append(append([]domain.CheckResult{}, run.seo...), run.accessibility...))

	if err := a.Transition(domain.StatusCompleted); err != nil {
		return o.fail(ctx, run, err)
	}
	a.Scores, a.Issues = scores, issues
	a.CriticalCount, a.MajorCount = counts.Critical, counts.Major
	if err := o.audits.Save(ctx, a); err != nil {
		// scores belong to completed records only; undo the whole write
		a.Status = domain.StatusProcessingAI
		a.Scores, a.Issues = domain.Scores{}, nil
		a.CriticalCount, a.MajorCount = 0, 0
		return o.fail(ctx, run, fmt.Errorf("save scores: %w", err))
	}
	o.metrics.IncrementOutcome(string(domain.StatusCompleted))
	o.logger.InfoContext(ctx, "audit completed",
		"audit_id", a.ID,
		"overall", a.Scores.Overall,
		"seo", a.Scores.SEO,
		"accessibility", a.Scores.Accessibility,
		"critical", a.CriticalCount)
	return nil
}

// fail moves the audit to failed and persists it even when ctx is already
// cancelled. The returned error wraps ErrAuditFailed and cause.
func (o *Orchestrator) fail(ctx context.Context, run *Run, cause error) error {
	a := run.Audit
	if err := a.Fail(cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	if err := o.audits.Save(context.WithoutCancel(ctx), a); err != nil {
		o.logger.ErrorContext(ctx, "persist failed audit", "audit_id", a.ID, "error", err)
		return errors.Join(fmt.Errorf("%w: %w", ErrAuditFailed, cause), err)
	}
	o.metrics.IncrementOutcome(string(domain.StatusFailed))
	o.logger.ErrorContext(ctx, "audit failed", "audit_id", a.ID, "error", cause)
	return fmt.Errorf("%w: %w", ErrAuditFailed, cause)
}

// phase opens a span and returns a func that closes it and records the
// phase latency.
func (o *Orchestrator) phase(ctx context.Context, name string, run *Run) (context.Context, func(error)) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "audit."+name, trace.WithAttributes(
		attribute.String("audit.id", run.Audit.ID),
		attribute.String("audit.content_id", run.Audit.ContentID),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("audit.status", string(run.Audit.Status)))
		span.End()
		o.metrics.ObservePhase(name, o.now().Sub(start))
	}
}
