package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/audits"
	"pageaudit/internal/services/orchestrator"
	"pageaudit/internal/workers/auditrunner"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxBodyBytes       = 10 << 20
)

// AuditService is the request side the handlers drive.
type AuditService interface {
	PutContent(ctx context.Context, c domain.Content, isDefault bool) error
	Enqueue(ctx context.Context, contentID, language string, opts audits.SubmitOptions) (audits.Submission, error)
	Retry(ctx context.Context, auditID string, opts audits.SubmitOptions) (audits.Submission, error)
	Status(ctx context.Context, auditID string) (domain.StatusView, error)
	Report(ctx context.Context, auditID string) (audits.Report, error)
	History(ctx context.Context, contentID string) ([]domain.AuditRequest, error)
	Dashboard(ctx context.Context) (audits.Dashboard, error)
}

// SettingsStore reads and replaces the audit settings.
type SettingsStore interface {
	Get() config.Settings
	Update(s config.Settings) error
}

type Server struct {
	audits     AuditService
	settings   SettingsStore
	jobs       ports.JobRepository
	stepper    auditrunner.Stepper
	snapshots  ports.SnapshotStore
	metrics    http.Handler
	logger     *slog.Logger
	runnerOpts []auditrunner.Option

	// inline tracks audits started by ?wait=true that may outlive their request.
	inline sync.WaitGroup
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSnapshots serves archived pages at /audits/{id}/snapshot.
func WithSnapshots(store ports.SnapshotStore) Option {
	return func(s *Server) { s.snapshots = store }
}

// WithRunnerOptions passes options to inline audit runs.
func WithRunnerOptions(opts ...auditrunner.Option) Option {
	return func(s *Server) { s.runnerOpts = opts }
}

func New(audits AuditService, settings SettingsStore, jobs ports.JobRepository, stepper auditrunner.Stepper, opts ...Option) *Server {
	s := &Server{audits: audits, settings: settings, jobs: jobs, stepper: stepper, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Put("/content/{id}", s.putContent)
	r.Get("/content/{id}/audits", s.getContentAudits)

	r.Post("/audits", s.postAudit)
	r.Get("/audits/{id}", s.getReport)
	r.Get("/audits/{id}/status", s.getStatus)
	r.Post("/audits/{id}/retry", s.postRetry)
	if s.snapshots != nil {
		r.Get("/audits/{id}/snapshot", s.getSnapshot)
	}

	r.Get("/dashboard", s.getDashboard)
	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.putSettings)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type contentRequest struct {
	Language string `json:"language"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	HTML     string `json:"html"`
	Default  bool   `json:"default"`
}

func (s *Server) putContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !s.decode(w, r, &req) {
		return
	}
	c := domain.Content{ID: chi.URLParam(r, "id"), Language: req.Language, Title: req.Title, URL: req.URL, HTML: req.HTML}
	if err := s.audits.PutContent(r.Context(), c, req.Default); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getContentAudits(w http.ResponseWriter, r *http.Request) {
	list, err := s.audits.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditResponse, 0, len(list))
	for i := range list {
		out = append(out, toAuditResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": out})
}

type auditRequest struct {
	ContentID   string `json:"content_id"`
	Language    string `json:"language"`
	InitiatedBy string `json:"initiated_by"`
}

func (s *Server) postAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ContentID == "" || req.Language == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "content_id and language are required"})
		return
	}
	wait, timeout, ok := waitParams(w, r)
	if !ok {
		return
	}
	sub, err := s.audits.Enqueue(r.Context(), req.ContentID, req.Language, audits.SubmitOptions{InitiatedBy: req.InitiatedBy, Inline: wait})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondSubmission(w, r, sub, wait, timeout)
}

func (s *Server) postRetry(w http.ResponseWriter, r *http.Request) {
	wait, timeout, ok := waitParams(w, r)
	if !ok {
		return
	}
	sub, err := s.audits.Retry(r.Context(), chi.URLParam(r, "id"), audits.SubmitOptions{Inline: wait})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondSubmission(w, r, sub, wait, timeout)
}

// waitParams binds ?wait=true&timeout=N (seconds).
func waitParams(w http.ResponseWriter, r *http.Request) (bool, time.Duration, bool) {
	q := r.URL.Query()
	var wait bool
	if err := runtime.BindQueryParameter("form", true, false, "wait", q, &wait); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "wait must be a boolean"})
		return false, 0, false
	}
	seconds := int(defaultWaitTimeout / time.Second)
	if err := runtime.BindQueryParameter("form", true, false, "timeout", q, &seconds); err != nil || seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "timeout must be a positive number of seconds"})
		return false, 0, false
	}
	return wait, time.Duration(seconds) * time.Second, true
}

type acceptedResponse struct {
	AuditID string        `json:"audit_id"`
	JobID   string        `json:"job_id,omitempty"`
	Status  domain.Status `json:"status"`
	Label   string        `json:"label"`
	Warning string        `json:"warning,omitempty"`
}

const (
	pendingWarning = "An audit is already queued or in progress for this content."
	runningWarning = "The audit is still running. Poll its status URL for the result."
)

func (s *Server) respondSubmission(w http.ResponseWriter, r *http.Request, sub audits.Submission, wait bool, timeout time.Duration) {
	if !wait {
		resp := acceptedResponse{AuditID: sub.Audit.ID, JobID: sub.JobID, Status: sub.Audit.Status, Label: sub.Audit.Label}
		if sub.AlreadyPending {
			resp.Warning = pendingWarning
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	// the audit must reach a terminal state even when the caller stops waiting
	done := make(chan error, 1)
	s.inline.Add(1)
	go func() {
		defer s.inline.Done()
		done <- auditrunner.ProcessInline(context.WithoutCancel(r.Context()), s.jobs, s.stepper, sub.Audit.ID, nil, s.runnerOpts...)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		// a failed audit is a result, not a request error
		if err != nil && !errors.Is(err, orchestrator.ErrAuditFailed) {
			s.writeError(w, r, err)
			return
		}
	case <-timer.C:
		s.respondRunning(w, r, sub)
		return
	case <-r.Context().Done():
		return
	}

	report, err := s.audits.Report(r.Context(), sub.Audit.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

// respondRunning answers a wait that outlived its timeout with the audit's
// current status.
func (s *Server) respondRunning(w http.ResponseWriter, r *http.Request, sub audits.Submission) {
	resp := acceptedResponse{AuditID: sub.Audit.ID, JobID: sub.JobID, Status: sub.Audit.Status, Label: sub.Audit.Label, Warning: runningWarning}
	if v, err := s.audits.Status(r.Context(), sub.Audit.ID); err == nil {
		resp.Status = v.Status
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// Wait blocks until every inline audit started by a request has finished.
func (s *Server) Wait() {
	s.inline.Wait()
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.audits.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.audits.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

// getSnapshot serves the page an audit was checked against. The archived
// markup is third-party content, so it is sandboxed.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	html, err := s.snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.audits.Dashboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(d))
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	// PUT replaces the whole document; maps are not merged into the old one
	var next config.Settings
	if !s.decode(w, r, &next) {
		return
	}
	if err := s.settings.Update(next); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Get())
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audits.ErrNotRetryable), errors.Is(err, ports.ErrAlreadyRunning), errors.Is(err, domain.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, audits.ErrInvalidContent), errors.Is(err, config.ErrInvalidSettings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audits.ErrDailyLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
