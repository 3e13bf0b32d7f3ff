package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/aitriage/internal/llm"
)

// defaults returns a Config populated from the registered flag defaults.
func defaults(t testing.TB) Config {
	t.Helper()
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	c := defaults(t)

	if c.DrainSeconds != 60 || c.ShutdownBudgetSeconds != 90 || c.APIPort != 8080 {
		t.Errorf("lifecycle defaults = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.RateLimitCapacity != 3 || c.RateLimitWindowMinutes != 60 {
		t.Errorf("rate limit defaults = %d per %dm", c.RateLimitCapacity, c.RateLimitWindowMinutes)
	}
	if c.SaturationWarnRatio != 0.8 || c.WarnRatio != 0.9 {
		t.Errorf("ratio defaults = %v/%v", c.SaturationWarnRatio, c.WarnRatio)
	}
	if c.AnthropicAPIKey != "" || c.OpenAIAPIKey != "" || c.DatabaseURL != "" || c.RedisURL != "" {
		t.Error("optional backends should default to empty")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-http-port", "9090",
		"-anthropic-api-key", "sk-ant",
		"-openai-model", "gpt-4o",
		"-llm-weights", "openai:3,anthropic:1",
		"-database-url", "postgres://u:p@db:5432/aitriage",
		"-redis-url", "redis://cache:6379/0",
		"-saturation-warn-ratio", "0.75",
		"-rate-limit-capacity", "10",
		"-admin-token", "tok",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.AnthropicAPIKey != "sk-ant" || c.OpenAIModel != "gpt-4o" {
		t.Errorf("llm = %q/%q", c.AnthropicAPIKey, c.OpenAIModel)
	}
	if c.SaturationWarnRatio != 0.75 || c.RateLimitCapacity != 10 || c.AdminToken != "tok" {
		t.Errorf("overrides not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr []string
	}{
		{"defaults are valid", func(*Config) {}, nil},
		{"minimum valid values", func(c *Config) {
			c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
			c.RateLimitCapacity, c.RateLimitWindowMinutes, c.DedupeWindowSeconds = 1, 1, 0
		}, nil},
		{"maximum valid values", func(c *Config) {
			c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
			c.CacheTTLSeconds, c.CorrelationWindowMinutes = 86400, 1440
		}, nil},
		{"all backends set", func(c *Config) {
			c.DatabaseURL = "postgresql://localhost/aitriage"
			c.RedisURL = "rediss://cache:6380"
			c.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X"
			c.PublicURL = "https://triage.example.com"
		}, nil},

		{"drain zero", func(c *Config) { c.DrainSeconds = 0 }, []string{"DRAIN_SECONDS"}},
		{"drain above max", func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }, []string{"DRAIN_SECONDS"}},
		{"budget negative", func(c *Config) { c.ShutdownBudgetSeconds = -1 }, []string{"SHUTDOWN_BUDGET_SECONDS"}},
		{"budget equals drain", func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds }, []string{"must be greater than"}},
		{"port above max", func(c *Config) { c.APIPort = 65536 }, []string{"HTTP_PORT"}},
		{"relative public url", func(c *Config) { c.PublicURL = "/triage" }, []string{"PUBLIC_URL"}},

		{"empty anthropic model", func(c *Config) { c.AnthropicModel = "" }, []string{"ANTHROPIC_MODEL"}},
		{"empty openai model", func(c *Config) { c.OpenAIModel = "" }, []string{"OPENAI_MODEL"}},
		{"openai base url scheme", func(c *Config) { c.OpenAIBaseURL = "ftp://api" }, []string{"OPENAI_BASE_URL"}},
		{"malformed weights", func(c *Config) { c.LLMWeights = "openai" }, []string{"LLM_WEIGHTS"}},
		{"negative weight", func(c *Config) { c.LLMWeights = "openai:-1" }, []string{"LLM_WEIGHTS"}},
		{"llm timeout zero", func(c *Config) { c.LLMTimeoutSeconds = 0 }, []string{"LLM_TIMEOUT_SECONDS"}},

		{"mysql database url", func(c *Config) { c.DatabaseURL = "mysql://db/x" }, []string{"DATABASE_URL"}},
		{"redis url without host", func(c *Config) { c.RedisURL = "redis://" }, []string{"REDIS_URL"}},
		{"cache ttl zero", func(c *Config) { c.CacheTTLSeconds = 0 }, []string{"CACHE_TTL_SECONDS"}},

		{"correlation window zero", func(c *Config) { c.CorrelationWindowMinutes = 0 }, []string{"CORRELATION_WINDOW_MINUTES"}},
		{"dedupe negative", func(c *Config) { c.DedupeWindowSeconds = -1 }, []string{"DEDUPE_WINDOW_SECONDS"}},
		{"saturation ratio one", func(c *Config) { c.SaturationWarnRatio = 1 }, []string{"SATURATION_WARN_RATIO"}},
		{"warn ratio NaN", func(c *Config) { c.WarnRatio = math.NaN() }, []string{"WARN_RATIO"}},

		{"capacity zero", func(c *Config) { c.RateLimitCapacity = 0 }, []string{"RATE_LIMIT_CAPACITY"}},
		{"window above max", func(c *Config) { c.RateLimitWindowMinutes = 1441 }, []string{"RATE_LIMIT_WINDOW_MINUTES"}},
		{"plain http slack", func(c *Config) { c.SlackWebhookURL = "http://hooks.slack.com/x" }, []string{"SLACK_WEBHOOK_URL"}},

		{"errors accumulate", func(c *Config) {
			c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 0, 0, 0
			c.RateLimitCapacity, c.WarnRatio = 0, 2
		}, []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "RATE_LIMIT_CAPACITY", "WARN_RATIO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := defaults(t)
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != (len(tt.errSubstr) > 0) {
				t.Fatalf("Validate() error = %v, want error %v", err, len(tt.errSubstr) > 0)
			}
			for _, sub := range tt.errSubstr {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q does not contain %q", err, sub)
				}
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	t.Parallel()

	c := defaults(t)
	c.CorrelationWindowMinutes = 30
	c.DedupeWindowSeconds = 45
	c.SaturationWarnRatio = 0.7
	c.RateLimitCapacity = 5
	c.RateLimitWindowMinutes = 10
	c.LLMWeights = "OpenAI:3, anthropic:0.5"

	cc := c.CorrelatorConfig()
	if cc.Window != 30*time.Minute || cc.DedupeWindow != 45*time.Second {
		t.Errorf("correlator windows = %v/%v", cc.Window, cc.DedupeWindow)
	}
	if cc.Classifier.SaturationWarnRatio != 0.7 || cc.Classifier.WarnRatio != 0.9 {
		t.Errorf("classifier ratios = %v/%v", cc.Classifier.SaturationWarnRatio, cc.Classifier.WarnRatio)
	}
	if err := cc.Classifier.Validate(); err != nil {
		t.Errorf("classifier config invalid: %v", err)
	}

	rl := c.RateLimitConfig()
	if rl.Capacity != 5 || rl.Window != 10*time.Minute {
		t.Errorf("rate limit = %+v", rl)
	}

	w := c.Weights()
	if w["openai"] != 3 || w["anthropic"] != 0.5 {
		t.Errorf("weights = %v", w)
	}
	c.LLMWeights = "bad"
	if c.Weights() != nil {
		t.Error("invalid weights should yield nil")
	}

	if c.CacheTTL() != time.Hour || c.LLMTimeout() != 30*time.Second {
		t.Errorf("durations = %v/%v", c.CacheTTL(), c.LLMTimeout())
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port, capacity int
		ratio                         float64
		weights                       string
	}{
		{60, 90, 8080, 3, 0.8, "openai:1,anthropic:1"},
		{1, 2, 1, 1, 0.01, ""},
		{299, 300, 65535, 1000, 0.99, "openai:0"},
		{0, 0, 0, 0, 0, "openai"},
		{-1, -1, -1, -1, -1, "openai:-1"},
		{301, 302, 65536, 1001, 1, ":"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.Inf(1), ",,,"},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.NaN(), "a:1e400"},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.capacity, s.ratio, s.weights)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, capacity int, ratio float64, weights string) {
		c := defaults(t)
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.RateLimitCapacity = capacity
		c.WarnRatio = ratio
		c.LLMWeights = weights
		err := c.Validate()

		_, werr := llm.ParseWeights(weights)
		wantOK := drain >= 1 && drain <= 300 &&
			budget >= 1 && budget <= 300 &&
			budget > drain &&
			port >= 1 && port <= 65535 &&
			capacity >= 1 && capacity <= 1000 &&
			ratio > 0 && ratio < 1 &&
			werr == nil

		if wantOK && err != nil {
			t.Errorf("expected valid, got error: %v", err)
		}
		if !wantOK && err == nil {
			t.Errorf("expected error for drain=%d budget=%d port=%d capacity=%d ratio=%v weights=%q",
				drain, budget, port, capacity, ratio, weights)
		}
		if err == nil {
			if cc := c.CorrelatorConfig(); cc.Classifier.Validate() != nil {
				t.Errorf("valid config produced invalid classifier config")
			}
		}
	})
}
