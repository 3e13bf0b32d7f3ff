// Package cfg holds the service configuration that is not owned by a
// go-core package.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/linnemanlabs/aitriage/internal/llm"
	"github.com/linnemanlabs/aitriage/internal/ratelimit"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

// Config implements the common Registerable and Validatable shapes used by
// go-core configs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	PublicURL             string

	AnthropicAPIKey   string
	AnthropicModel    string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	LLMWeights        string
	LLMTimeoutSeconds int

	DatabaseURL     string
	RedisURL        string
	CacheTTLSeconds int

	CorrelationWindowMinutes int
	DedupeWindowSeconds      int
	SaturationWarnRatio      float64
	WarnRatio                float64

	RateLimitCapacity      int
	RateLimitWindowMinutes int

	AdminToken      string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.PublicURL, "public-url", "", "externally reachable base URL, used in notification links")

	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "Anthropic API key (empty = provider unavailable)")
	fs.StringVar(&c.AnthropicModel, "anthropic-model", "claude-sonnet-4-5-20250929", "default Anthropic model")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (empty = provider unavailable)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "default OpenAI model")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "https://api.openai.com/v1", "OpenAI-compatible API root (/v1 is appended when missing)")
	fs.StringVar(&c.LLMWeights, "llm-weights", "openai:1,anthropic:1", "auto-mode provider weights as name:weight,...")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 30, "timeout for a single provider call (1..300)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for rate limit state (empty = in-memory)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the report cache (empty = in-memory)")
	fs.IntVar(&c.CacheTTLSeconds, "cache-ttl-seconds", 3600, "report cache entry lifetime (1..86400)")

	fs.IntVar(&c.CorrelationWindowMinutes, "correlation-window-minutes", 60, "minutes an incident keeps accepting alerts after its last update (1..1440)")
	fs.IntVar(&c.DedupeWindowSeconds, "dedupe-window-seconds", 120, "seconds a repeated alert fingerprint is suppressed (0..3600)")
	fs.Float64Var(&c.SaturationWarnRatio, "saturation-warn-ratio", 0.8, "fraction of threshold at which saturation becomes a warning (0..1)")
	fs.Float64Var(&c.WarnRatio, "warn-ratio", 0.9, "fraction of threshold at which other signals become a warning (0..1)")

	fs.IntVar(&c.RateLimitCapacity, "rate-limit-capacity", 3, "narrative requests allowed per identity per window (1..1000)")
	fs.IntVar(&c.RateLimitWindowMinutes, "rate-limit-window-minutes", 60, "rate limit window length in minutes (1..1440)")

	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for admin routes (empty = admin routes unauthenticated)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.PublicURL != "" {
		errs = append(errs, checkURL("PUBLIC_URL", c.PublicURL, "http", "https"))
	}

	// Narrative providers are optional; models are not.
	if c.AnthropicModel == "" {
		errs = append(errs, errors.New("ANTHROPIC_MODEL is required"))
	}
	if c.OpenAIModel == "" {
		errs = append(errs, errors.New("OPENAI_MODEL is required"))
	}
	errs = append(errs, checkURL("OPENAI_BASE_URL", c.OpenAIBaseURL, "http", "https"))
	if _, err := llm.ParseWeights(c.LLMWeights); err != nil {
		errs = append(errs, fmt.Errorf("invalid LLM_WEIGHTS: %w", err))
	}
	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..300)", c.LLMTimeoutSeconds))
	}

	if c.DatabaseURL != "" {
		errs = append(errs, checkURL("DATABASE_URL", c.DatabaseURL, "postgres", "postgresql"))
	}
	if c.RedisURL != "" {
		errs = append(errs, checkURL("REDIS_URL", c.RedisURL, "redis", "rediss"))
	}
	if c.CacheTTLSeconds <= 0 || c.CacheTTLSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL_SECONDS %d (must be 1..86400)", c.CacheTTLSeconds))
	}

	if c.CorrelationWindowMinutes <= 0 || c.CorrelationWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_WINDOW_MINUTES %d (must be 1..1440)", c.CorrelationWindowMinutes))
	}
	if c.DedupeWindowSeconds < 0 || c.DedupeWindowSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid DEDUPE_WINDOW_SECONDS %d (must be 0..3600)", c.DedupeWindowSeconds))
	}
	if !openUnit(c.SaturationWarnRatio) {
		errs = append(errs, fmt.Errorf("invalid SATURATION_WARN_RATIO %v (must be between 0 and 1, exclusive)", c.SaturationWarnRatio))
	}
	if !openUnit(c.WarnRatio) {
		errs = append(errs, fmt.Errorf("invalid WARN_RATIO %v (must be between 0 and 1, exclusive)", c.WarnRatio))
	}

	if c.RateLimitCapacity <= 0 || c.RateLimitCapacity > 1000 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_CAPACITY %d (must be 1..1000)", c.RateLimitCapacity))
	}
	if c.RateLimitWindowMinutes <= 0 || c.RateLimitWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MINUTES %d (must be 1..1440)", c.RateLimitWindowMinutes))
	}

	if c.SlackWebhookURL != "" {
		errs = append(errs, checkURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL, "https"))
	}

	return errors.Join(errs...)
}

func openUnit(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v < 1
}

// checkURL returns nil when raw is an absolute URL with one of schemes.
func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid %s: must be an absolute URL", name)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: scheme %q not allowed (want %v)", name, u.Scheme, schemes)
}

// CorrelatorConfig returns the correlation settings, keeping the classifier
// defaults for fields without a flag.
func (c *Config) CorrelatorConfig() triage.CorrelatorConfig {
	cc := triage.DefaultCorrelatorConfig()
	cc.Window = time.Duration(c.CorrelationWindowMinutes) * time.Minute
	cc.DedupeWindow = time.Duration(c.DedupeWindowSeconds) * time.Second
	cc.Classifier.SaturationWarnRatio = c.SaturationWarnRatio
	cc.Classifier.WarnRatio = c.WarnRatio
	return cc
}

// RateLimitConfig returns the narrative quota.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity: c.RateLimitCapacity,
		Window:   time.Duration(c.RateLimitWindowMinutes) * time.Minute,
	}
}

// Weights returns the parsed auto-mode weights. Call after Validate.
func (c *Config) Weights() map[string]float64 {
	w, err := llm.ParseWeights(c.LLMWeights)
	if err != nil {
		return nil
	}
	return w
}

// CacheTTL returns the report cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LLMTimeout returns the per-call provider timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}
