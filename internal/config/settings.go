package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"pageaudit/internal/domain"
)

// OperationChatJSON is the operation type used for structured chat analysis.
const OperationChatJSON = "chat_with_complex_json"

// weightTolerance is how far a weight/ratio sum may drift from 1.0.
const weightTolerance = 0.01

var ErrInvalidSettings = errors.New("invalid audit settings")

// ProviderRef names a provider/model pair.
type ProviderRef struct {
	ProviderID string `yaml:"provider_id" json:"provider_id"`
	ModelID    string `yaml:"model_id" json:"model_id"`
}

// ChainEntry is the on-disk form of a provider chain entry. Enabled defaults
// to true when omitted.
type ChainEntry struct {
	ProviderID string `yaml:"provider_id" json:"provider_id"`
	ModelID    string `yaml:"model_id" json:"model_id"`
	Weight     int    `yaml:"weight" json:"weight"`
	Enabled    *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Settings is the flat audit configuration snapshot read by one audit run.
type Settings struct {
	AIEnabled               bool `yaml:"ai_enabled" json:"ai_enabled"`
	ProviderFallbackEnabled bool `yaml:"provider_fallback_enabled" json:"provider_fallback_enabled"`
	LogProviderFallback     bool `yaml:"log_provider_fallback" json:"log_provider_fallback"`
	MaxTokensPerAudit       int  `yaml:"max_tokens_per_audit" json:"max_tokens_per_audit"`
	MaxAuditsPerDay         int  `yaml:"max_audits_per_day" json:"max_audits_per_day"`
	MaxContentLengthForAI   int  `yaml:"max_content_length_for_ai" json:"max_content_length_for_ai"`

	SEOWeight             float64 `yaml:"seo_weight" json:"seo_weight"`
	AccessibilityWeight   float64 `yaml:"accessibility_weight" json:"accessibility_weight"`
	ContentQualityWeight  float64 `yaml:"content_quality_weight" json:"content_quality_weight"`
	SEODeterministicRatio float64 `yaml:"seo_deterministic_ratio" json:"seo_deterministic_ratio"`
	SEOAIRatio            float64 `yaml:"seo_ai_ratio" json:"seo_ai_ratio"`

	RetryOnRateLimit    bool `yaml:"retry_on_rate_limit" json:"retry_on_rate_limit"`
	RateLimitMaxRetries int  `yaml:"rate_limit_max_retries" json:"rate_limit_max_retries"`
	RateLimitRetryDelay int  `yaml:"rate_limit_retry_delay" json:"rate_limit_retry_delay"` // seconds

	// DefaultProviders is the system default per operation type, used when
	// the fallback chain is empty.
	DefaultProviders map[string]ProviderRef `yaml:"default_providers" json:"default_providers"`
	ProviderChain    []ChainEntry           `yaml:"provider_fallback_chain" json:"provider_fallback_chain"`

	AccessibilityDisclaimer string `yaml:"accessibility_disclaimer" json:"accessibility_disclaimer"`
	SEODisclaimer           string `yaml:"seo_disclaimer" json:"seo_disclaimer"`
}

// DefaultSettings mirrors the shipped module defaults.
func DefaultSettings() Settings {
	return Settings{
		AIEnabled:               false,
		ProviderFallbackEnabled: true,
		LogProviderFallback:     true,
		MaxTokensPerAudit:       4000,
		MaxAuditsPerDay:         0,
		MaxContentLengthForAI:   50000,
		SEOWeight:               0.5,
		AccessibilityWeight:     0.3,
		ContentQualityWeight:    0.2,
		SEODeterministicRatio:   0.7,
		SEOAIRatio:              0.3,
		RetryOnRateLimit:        true,
		RateLimitMaxRetries:     2,
		RateLimitRetryDelay:     5,
		AccessibilityDisclaimer: "Automated accessibility checks cover a subset of WCAG success criteria and do not establish conformance.",
		SEODisclaimer:           "SEO scores are heuristic approximations and do not guarantee search ranking.",
	}
}

// Chain returns the provider chain in domain form, applying the enabled default.
func (s Settings) Chain() []domain.ProviderChainEntry {
	out := make([]domain.ProviderChainEntry, 0, len(s.ProviderChain))
	for _, e := range s.ProviderChain {
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		out = append(out, domain.ProviderChainEntry{ProviderID: e.ProviderID, ModelID: e.ModelID, Weight: e.Weight, Enabled: enabled})
	}
	return out
}

// DefaultProvider returns the system default for an operation type.
func (s Settings) DefaultProvider(operationType string) (ProviderRef, bool) {
	ref, ok := s.DefaultProviders[operationType]
	if !ok || ref.ProviderID == "" || ref.ModelID == "" {
		return ProviderRef{}, false
	}
	return ref, true
}

// Validate enforces the configuration invariants. The scoring engine relies on
// these and does not check them itself.
func (s Settings) Validate() error {
	var errs []error
	if total := s.SEOWeight + s.AccessibilityWeight + s.ContentQualityWeight; math.Abs(total-1.0) > weightTolerance {
		errs = append(errs, fmt.Errorf("overall score weights must sum to 1.0 (currently %.2f)", total))
	}
	if total := s.SEODeterministicRatio + s.SEOAIRatio; math.Abs(total-1.0) > weightTolerance {
		errs = append(errs, fmt.Errorf("SEO score ratios must sum to 1.0 (currently %.2f)", total))
	}
	for name, v := range map[string]float64{
		"seo_weight":              s.SEOWeight,
		"accessibility_weight":    s.AccessibilityWeight,
		"content_quality_weight":  s.ContentQualityWeight,
		"seo_deterministic_ratio": s.SEODeterministicRatio,
		"seo_ai_ratio":            s.SEOAIRatio,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1]", name))
		}
	}
	if s.RateLimitMaxRetries < 0 {
		errs = append(errs, errors.New("rate_limit_max_retries must not be negative"))
	}
	if s.RateLimitRetryDelay < 0 {
		errs = append(errs, errors.New("rate_limit_retry_delay must not be negative"))
	}
	if s.MaxTokensPerAudit <= 0 {
		errs = append(errs, errors.New("max_tokens_per_audit must be positive"))
	}
	if s.MaxContentLengthForAI <= 0 {
		errs = append(errs, errors.New("max_content_length_for_ai must be positive"))
	}
	if s.MaxAuditsPerDay < 0 {
		errs = append(errs, errors.New("max_audits_per_day must not be negative"))
	}
	for i, e := range s.ProviderChain {
		if e.ProviderID == "" || e.ModelID == "" {
			errs = append(errs, fmt.Errorf("provider_fallback_chain[%d]: provider_id and model_id are required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// ParseSettings decodes YAML over the defaults and validates the result.
func ParseSettings(b []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("parse audit settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads a settings file; an empty path yields the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read audit settings: %w", err)
	}
	return ParseSettings(b)
}

// Store holds the active settings snapshot. Readers get a copy, so a running
// audit never observes a concurrent update.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

func NewStore(s Settings, path string) *Store {
	return &Store{settings: s.clone(), path: path}
}

func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings.clone()
}

// Update validates and swaps the snapshot, writing it back to the settings
// file when one is configured. Invalid settings are rejected unchanged.
func (st *Store) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.path != "" {
		b, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode audit settings: %w", err)
		}
		if err := os.WriteFile(st.path, b, 0o644); err != nil {
			return fmt.Errorf("write audit settings: %w", err)
		}
	}
	st.settings = s.clone()
	return nil
}

func (s Settings) clone() Settings {
	out := s
	out.ProviderChain = append([]ChainEntry(nil), s.ProviderChain...)
	if s.DefaultProviders != nil {
		out.DefaultProviders = make(map[string]ProviderRef, len(s.DefaultProviders))
		for k, v := range s.DefaultProviders {
			out.DefaultProviders[k] = v
		}
	}
	return out
}
