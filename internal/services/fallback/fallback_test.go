package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pageaudit/internal/config"
	"pageaudit/internal/domain"
)

type FallbackSuite struct {
	suite.Suite
	engine *Engine
	sleeps []time.Duration
	calls  []string
}

func TestFallbackSuite(t *testing.T) {
	suite.Run(t, new(FallbackSuite))
}

func (s *FallbackSuite) SetupTest() {
	s.sleeps = nil
	s.calls = nil
	s.engine = New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			s.sleeps = append(s.sleeps, d)
			return nil
		}),
	)
}

func (s *FallbackSuite) policy(chain ...domain.ProviderChainEntry) Policy {
	return Policy{Chain: chain, RetryOnRateLimit: true, MaxRetries: 2, RetryDelay: 5 * time.Second, LogFallback: true}
}

func entry(provider string, weight int) domain.ProviderChainEntry {
	return domain.ProviderChainEntry{ProviderID: provider, ModelID: "m", Weight: weight, Enabled: true}
}

// op fails per provider according to a script; a provider absent from the
// script succeeds.
func (s *FallbackSuite) op(script map[string][]error) Operation[string] {
	return func(_ context.Context, providerID, modelID string) (string, error) {
		s.calls = append(s.calls, providerID)
		if errs := script[providerID]; len(errs) > 0 {
			err := errs[0]
			script[providerID] = errs[1:]
			if err != nil {
				return "", err
			}
		}
		return "ok from " + providerID, nil
	}
}

// =============================================================================
// Chain traversal
// =============================================================================

func (s *FallbackSuite) TestThirdProviderSucceeds() {
	fail := NewProviderError(QuotaExceeded, "x", "quota", nil)
	script := map[string][]error{
		"p1": {fail},
		"p2": {NewProviderError(ResponseError, "p2", "bad json", nil)},
	}
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(entry("p1", 0), entry("p2", 1), entry("p3", 2)), s.op(script))

	s.True(out.Success)
	s.Equal(3, out.Attempts)
	s.Equal("p3__m", out.ProviderUsed)
	s.Equal("ok from p3", out.Data)
	s.NoError(out.LastError)
	s.Empty(s.sleeps)
}

func (s *FallbackSuite) TestChainIsOrderedByWeight() {
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(entry("late", 10), entry("early", -1), entry("mid", 3)),
		s.op(map[string][]error{"early": {errors.New("boom")}}))

	s.True(out.Success)
	s.Equal([]string{"early", "mid"}, s.calls)
	s.Equal("mid__m", out.ProviderUsed)
}

func (s *FallbackSuite) TestDisabledEntriesAreNotAttempts() {
	disabled := entry("p1", 0)
	disabled.Enabled = false
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(disabled, entry("p2", 1)), s.op(nil))

	s.True(out.Success)
	s.Equal(1, out.Attempts)
	s.Equal([]string{"p2"}, s.calls)
}

func (s *FallbackSuite) TestAllDisabled() {
	disabled := entry("p1", 0)
	disabled.Enabled = false
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(disabled), s.op(nil))

	s.False(out.Success)
	s.Equal(0, out.Attempts)
	s.ErrorIs(out.LastError, ErrAllProvidersFailed)
}

func (s *FallbackSuite) TestAllFailReportsLastError() {
	last := NewProviderError(AccessDenied, "p2", "bad key", nil)
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(entry("p1", 0), entry("p2", 1)),
		s.op(map[string][]error{"p1": {NewProviderError(BadRequest, "p1", "nope", nil)}, "p2": {last}}))

	s.False(out.Success)
	s.Equal(2, out.Attempts)
	s.Empty(out.ProviderUsed)
	s.ErrorIs(out.LastError, last)
}

func (s *FallbackSuite) TestEmptyChainUsesDefault() {
	p := s.policy()
	p.Default = &config.ProviderRef{ProviderID: "sys", ModelID: "default"}
	out := ExecuteWithFallback(context.Background(), s.engine, p, s.op(nil))

	s.True(out.Success)
	s.Equal("sys__default", out.ProviderUsed)
	s.Equal(1, out.Attempts)
}

func (s *FallbackSuite) TestNoProvidersAtAll() {
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(), s.op(nil))

	s.False(out.Success)
	s.Equal(0, out.Attempts)
	s.ErrorIs(out.LastError, ErrNoProviders)
	s.Empty(s.calls)
}

func (s *FallbackSuite) TestCancelledContextStopsChain() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := ExecuteWithFallback(ctx, s.engine, s.policy(entry("p1", 0)), s.op(nil))

	s.False(out.Success)
	s.ErrorIs(out.LastError, context.Canceled)
	s.Empty(s.calls)
}

// =============================================================================
// Rate-limit retries
// =============================================================================

func (s *FallbackSuite) TestRateLimitRetriedInPlace() {
	rl := NewProviderError(RateLimited, "p1", "slow down", nil)
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(entry("p1", 0)),
		s.op(map[string][]error{"p1": {rl, rl}}))

	s.True(out.Success)
	s.Equal(1, out.Attempts)
	s.Equal([]string{"p1", "p1", "p1"}, s.calls)
	s.Equal([]time.Duration{5 * time.Second, 5 * time.Second}, s.sleeps)
}

func (s *FallbackSuite) TestRateLimitExhaustionAdvances() {
	rl := NewProviderError(RateLimited, "p1", "slow down", nil)
	out := ExecuteWithFallback(context.Background(), s.engine, s.policy(entry("p1", 0), entry("p2", 1)),
		s.op(map[string][]error{"p1": {rl, rl, rl}}))

	s.True(out.Success)
	s.Equal(2, out.Attempts)
	s.Equal([]string{"p1", "p1", "p1", "p2"}, s.calls)
	s.Len(s.sleeps, 2)
}

func (s *FallbackSuite) TestRateLimitNotRetriedWhenDisabled() {
	p := s.policy(entry("p1", 0), entry("p2", 1))
	p.RetryOnRateLimit = false
	rl := NewProviderError(RateLimited, "p1", "slow down", nil)
	out := ExecuteWithFallback(context.Background(), s.engine, p, s.op(map[string][]error{"p1": {rl}}))

	s.True(out.Success)
	s.Equal([]string{"p1", "p2"}, s.calls)
	s.Empty(s.sleeps)
}

func (s *FallbackSuite) TestOtherKindsAreNotRetried() {
	_, err := ExecuteWithRetry(context.Background(), s.engine, s.policy(), "p1", "m",
		s.op(map[string][]error{"p1": {NewProviderError(QuotaExceeded, "p1", "empty", nil)}}))

	s.Equal(QuotaExceeded, KindOf(err))
	s.Len(s.calls, 1)
}

func (s *FallbackSuite) TestBackoffHonoursContext() {
	e := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p := s.policy()
	p.RetryDelay = time.Hour

	_, err := ExecuteWithRetry(ctx, e, p, "p1", "m",
		s.op(map[string][]error{"p1": {NewProviderError(RateLimited, "p1", "slow down", nil)}}))
	s.ErrorIs(err, context.DeadlineExceeded)
}

// =============================================================================
// Errors and policy
// =============================================================================

func TestKindOf(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), NewProviderError(AccessDenied, "p", "denied", nil))
	assert.Equal(t, AccessDenied, KindOf(wrapped))
	assert.Equal(t, ResponseError, KindOf(errors.New("plain")))
	assert.Equal(t, "rate_limited", RateLimited.String())
}

func TestProviderErrorUnwraps(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := NewProviderError(ResponseError, "p", "read body", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider p [response_error]: read body")
}

func TestEveryKindAdvances(t *testing.T) {
	for _, k := range []Kind{RateLimited, QuotaExceeded, BadRequest, AccessDenied, ResponseError} {
		assert.True(t, advance(k), k.String())
		assert.Equal(t, k == RateLimited, retryInPlace(k), k.String())
	}
}

func TestPolicyFrom(t *testing.T) {
	s := config.DefaultSettings()
	s.RateLimitRetryDelay = 3
	s.DefaultProviders = map[string]config.ProviderRef{config.OperationChatJSON: {ProviderID: "openai", ModelID: "gpt"}}

	p := PolicyFrom(s, config.OperationChatJSON)
	assert.Equal(t, 3*time.Second, p.RetryDelay)
	assert.Equal(t, 2, p.MaxRetries)
	require.NotNil(t, p.Default)
	assert.Equal(t, "openai", p.Default.ProviderID)
	require.Len(t, p.Resolve(), 1)

	p = PolicyFrom(s, "embeddings")
	assert.Nil(t, p.Default)
	assert.Empty(t, p.Resolve())
}
