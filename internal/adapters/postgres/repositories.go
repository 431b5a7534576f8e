package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pageaudit/internal/domain"
	"pageaudit/internal/ports"
)

const auditColumns = `id, content_id, language, label, initiated_by, status,
	overall_score, seo_score, accessibility_score, content_quality_score,
	seo_results, accessibility_results, ai_analysis, executive_summary, issues,
	critical_count, major_count, error_message, ai_provider_used,
	ai_fallback_attempts, ai_tokens_used, retry_of, created_at, updated_at`

func scanAudit(row pgx.Row) (*domain.AuditRequest, error) {
	var (
		a                  domain.AuditRequest
		seo, a11y, ai, iss []byte
	)
	err := row.Scan(&a.ID, &a.ContentID, &a.Language, &a.Label, &a.InitiatedBy, &a.Status,
		&a.Scores.Overall, &a.Scores.SEO, &a.Scores.Accessibility, &a.Scores.ContentQuality,
		&seo, &a11y, &ai, &a.ExecutiveSummary, &iss,
		&a.CriticalCount, &a.MajorCount, &a.ErrorMessage, &a.AIProviderUsed,
		&a.AIFallbackAttempts, &a.AITokensUsed, &a.RetryOf, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SEOResultsRaw, a.AccessibilityResultsRaw, a.AIAnalysisRaw = seo, a11y, ai
	if err := json.Unmarshal(iss, &a.Issues); err != nil {
		return nil, fmt.Errorf("decode issues of audit %s: %w", a.ID, err)
	}
	return &a, nil
}

func collectAudits(rows pgx.Rows) ([]domain.AuditRequest, error) {
	defer rows.Close()
	var out []domain.AuditRequest
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// nullJSON keeps absent raw results NULL instead of an empty document.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func encodeIssues(issues []domain.Issue) ([]byte, error) {
	if issues == nil {
		issues = []domain.Issue{}
	}
	return json.Marshal(issues)
}

// AuditRepository

func (db *DB) Create(ctx context.Context, a *domain.AuditRequest) error {
	issues, err := encodeIssues(a.Issues)
	if err != nil {
		return err
	}
	return db.Pool.QueryRow(ctx, `
		INSERT INTO audits (content_id, language, label, initiated_by, status, issues, retry_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, a.ContentID, a.Language, a.Label, a.InitiatedBy, a.Status, issues, a.RetryOf).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (db *DB) Get(ctx context.Context, id string) (*domain.AuditRequest, error) {
	a, err := scanAudit(db.Pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	return a, err
}

func (db *DB) Save(ctx context.Context, a *domain.AuditRequest) error {
	issues, err := encodeIssues(a.Issues)
	if err != nil {
		return err
	}
	err = db.Pool.QueryRow(ctx, `
		UPDATE audits SET
			status = $2, overall_score = $3, seo_score = $4, accessibility_score = $5,
			content_quality_score = $6, seo_results = $7, accessibility_results = $8,
			ai_analysis = $9, executive_summary = $10, issues = $11, critical_count = $12,
			major_count = $13, error_message = $14, ai_provider_used = $15,
			ai_fallback_attempts = $16, ai_tokens_used = $17, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Status, a.Scores.Overall, a.Scores.SEO, a.Scores.Accessibility,
		a.Scores.ContentQuality, nullJSON(a.SEOResultsRaw), nullJSON(a.AccessibilityResultsRaw),
		nullJSON(a.AIAnalysisRaw), a.ExecutiveSummary, issues, a.CriticalCount,
		a.MajorCount, a.ErrorMessage, a.AIProviderUsed,
		a.AIFallbackAttempts, a.AITokensUsed).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	return err
}

func (db *DB) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM audits WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (db *DB) HasPending(ctx context.Context, contentID, language string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM audits
			WHERE content_id = $1 AND language = $2 AND status = ANY($3)
		)
	`, contentID, language, []string{
		string(domain.StatusQueued),
		string(domain.StatusProcessingDeterministic),
		string(domain.StatusProcessingAI),
	}).Scan(&exists)
	return exists, err
}

func (db *DB) LatestCompleted(ctx context.Context) ([]domain.AuditRequest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+auditColumns+` FROM (
			SELECT DISTINCT ON (content_id) * FROM audits
			WHERE status = $1
			ORDER BY content_id, created_at DESC
		) latest
		ORDER BY created_at DESC
	`, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	return collectAudits(rows)
}

func (db *DB) ListByContent(ctx context.Context, contentID string) ([]domain.AuditRequest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+auditColumns+` FROM audits WHERE content_id = $1 ORDER BY created_at DESC
	`, contentID)
	if err != nil {
		return nil, err
	}
	return collectAudits(rows)
}

// ContentStore is the content side of the database; it shares the pool.
type ContentStore struct{ db *DB }

func (db *DB) Content() *ContentStore { return &ContentStore{db: db} }

func (s *ContentStore) Put(ctx context.Context, c domain.Content, isDefault bool) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO content_items (id, default_language) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE
			SET default_language = CASE WHEN $3::boolean THEN EXCLUDED.default_language ELSE content_items.default_language END
		`, c.ID, c.Language, isDefault); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO content_variants (content_id, language, title, url, html)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (content_id, language) DO UPDATE
			SET title = EXCLUDED.title, url = EXCLUDED.url, html = EXCLUDED.html
		`, c.ID, c.Language, c.Title, c.URL, c.HTML)
		return err
	})
}

// Load prefers the requested language and falls back to the default one.
func (s *ContentStore) Load(ctx context.Context, id, language string) (domain.Content, error) {
	var c domain.Content
	err := s.db.Pool.QueryRow(ctx, `
		SELECT v.content_id, v.language, v.title, v.url, v.html
		FROM content_items i
		JOIN content_variants v ON v.content_id = i.id
		WHERE i.id = $1 AND v.language IN ($2, i.default_language)
		ORDER BY (v.language = $2) DESC
		LIMIT 1
	`, id, language).Scan(&c.ID, &c.Language, &c.Title, &c.URL, &c.HTML)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Content{}, ports.ErrNotFound
	}
	return c, err
}
