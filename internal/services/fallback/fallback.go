// Package fallback runs an AI operation against an ordered chain of
// provider/model pairs, retrying rate limits in place and moving down the
// chain on any other failure.
package fallback

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/metrics"
)

// Operation is one call against a specific provider and model.
type Operation[T any] func(ctx context.Context, providerID, modelID string) (T, error)

// Outcome reports how a fallback run ended. ProviderUsed is
// "<provider>__<model>" on success. Attempts counts providers tried, not
// in-place retries.
type Outcome[T any] struct {
	Success      bool
	Data         T
	ProviderUsed string
	Attempts     int
	LastError    error
}

// Policy is the slice of settings the engine reads for one run.
type Policy struct {
	Chain            []domain.ProviderChainEntry
	Default          *config.ProviderRef
	RetryOnRateLimit bool
	MaxRetries       int
	RetryDelay       time.Duration
	LogFallback      bool
}

// PolicyFrom builds a policy for an operation type from a settings snapshot.
func PolicyFrom(s config.Settings, operationType string) Policy {
	p := Policy{
		Chain:            s.Chain(),
		RetryOnRateLimit: s.RetryOnRateLimit,
		MaxRetries:       s.RateLimitMaxRetries,
		RetryDelay:       time.Duration(s.RateLimitRetryDelay) * time.Second,
		LogFallback:      s.LogProviderFallback,
	}
	if ref, ok := s.DefaultProvider(operationType); ok {
		p.Default = &ref
	}
	return p
}

// Resolve returns the chain in priority order: the configured chain sorted by
// ascending weight, else the system default alone, else nothing.
func (p Policy) Resolve() []domain.ProviderChainEntry {
	if len(p.Chain) > 0 {
		chain := slices.Clone(p.Chain)
		slices.SortStableFunc(chain, func(a, b domain.ProviderChainEntry) int {
			return cmp.Compare(a.Weight, b.Weight)
		})
		return chain
	}
	if p.Default != nil {
		return []domain.ProviderChainEntry{{ProviderID: p.Default.ProviderID, ModelID: p.Default.ModelID, Enabled: true}}
	}
	return nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Engine executes operations with fallback and retry.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   Sleeper
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSleeper replaces the rate-limit backoff wait.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), sleep: sleepCtx}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProviderKey is the "<provider>__<model>" identifier used in reports.
func ProviderKey(providerID, modelID string) string {
	return providerID + "__" + modelID
}

// ExecuteWithFallback walks the resolved chain until one provider succeeds.
// Disabled entries are skipped without counting as an attempt. An empty chain
// fails immediately with ErrNoProviders and zero attempts.
func ExecuteWithFallback[T any](ctx context.Context, e *Engine, p Policy, op Operation[T]) Outcome[T] {
	chain := p.Resolve()
	if len(chain) == 0 {
		return Outcome[T]{LastError: ErrNoProviders}
	}

	var out Outcome[T]
	for _, entry := range chain {
		if !entry.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			out.LastError = err
			return out
		}
		out.Attempts++
		key := ProviderKey(entry.ProviderID, entry.ModelID)

		data, err := ExecuteWithRetry(ctx, e, p, entry.ProviderID, entry.ModelID, op)
		if err == nil {
			if p.LogFallback {
				e.logger.InfoContext(ctx, "AI analysis completed with provider",
					"provider", key, "attempts", out.Attempts)
			}
			out.Success = true
			out.Data = data
			out.ProviderUsed = key
			out.LastError = nil
			return out
		}

		out.LastError = err
		kind := KindOf(err)
		if p.LogFallback {
			e.logger.WarnContext(ctx, "provider failed, trying next provider",
				"provider", key, "kind", kind.String(), "error", err)
		}
		if !advance(kind) {
			break
		}
	}
	if out.LastError == nil {
		// every entry was disabled
		out.LastError = ErrAllProvidersFailed
	}
	return out
}

// ExecuteWithRetry calls op on one provider, retrying rate limits up to
// MaxRetries times with RetryDelay between calls when RetryOnRateLimit is set.
// Any other failure is returned immediately.
func ExecuteWithRetry[T any](ctx context.Context, e *Engine, p Policy, providerID, modelID string, op Operation[T]) (T, error) {
	key := ProviderKey(providerID, modelID)
	for attempt := 0; ; attempt++ {
		data, err := op(ctx, providerID, modelID)
		if err == nil {
			e.metrics.IncrementProviderAttempt(key, "success")
			return data, nil
		}
		kind := KindOf(err)
		e.metrics.IncrementProviderAttempt(key, kind.String())

		if !retryInPlace(kind) || !p.RetryOnRateLimit || attempt >= p.MaxRetries {
			return data, err
		}
		e.logger.WarnContext(ctx, "rate limit hit, retrying",
			"provider", key, "delay", p.RetryDelay, "attempt", attempt+1, "max", p.MaxRetries)
		if serr := e.sleep(ctx, p.RetryDelay); serr != nil {
			var zero T
			return zero, fmt.Errorf("rate limit backoff on %s: %w", key, serr)
		}
	}
}
