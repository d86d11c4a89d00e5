package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/validate"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Iterate    IterateConfig    `yaml:"iterate" mapstructure:"iterate"`
	Draft      DraftConfig      `yaml:"draft" mapstructure:"draft"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PolicyConfig configures the validation gate.
type PolicyConfig struct {
	CriticalFields                []string `yaml:"critical_fields" mapstructure:"critical_fields"`
	MinSuccessRate                float64  `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MinConfidencePerCriticalField float64  `yaml:"min_confidence_per_critical_field" mapstructure:"min_confidence_per_critical_field"`
}

// IterateConfig bounds the iteration controller.
type IterateConfig struct {
	MaxIterations         int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	RefineBelowConfidence float64 `yaml:"refine_below_confidence" mapstructure:"refine_below_confidence"`
	PruneBroken           bool    `yaml:"prune_broken" mapstructure:"prune_broken"`
}

// DraftConfig selects and tunes drafters.
type DraftConfig struct {
	// Drafters run in order; known names are "heuristic" and "anthropic".
	Drafters []string `yaml:"drafters" mapstructure:"drafters"`
	PerField int      `yaml:"per_field" mapstructure:"per_field"`
	// Narrow asks later drafters only for fields earlier ones left uncovered.
	Narrow bool `yaml:"narrow" mapstructure:"narrow"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	DigestBudget int    `yaml:"digest_budget" mapstructure:"digest_budget"`
	CacheTTL     string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// FetchConfig configures page acquisition.
type FetchConfig struct {
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost  float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	// JinaFallback retries blocked or failed direct fetches through the
	// Jina Reader when a Jina key is configured.
	JinaFallback bool `yaml:"jina_fallback" mapstructure:"jina_fallback"`
	// FirecrawlFallback tries Firecrawl last when a Firecrawl key is set.
	FirecrawlFallback bool `yaml:"firecrawl_fallback" mapstructure:"firecrawl_fallback"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	WaitForMs int    `yaml:"wait_for_ms" mapstructure:"wait_for_ms"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ReviewConfig configures where exhausted runs are sent for human review.
type ReviewConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	OutDir      string `yaml:"out_dir" mapstructure:"out_dir"`
}

// NotionConfig holds the Notion review database settings. Exhausted runs
// are filed there when both Token and ReviewDB are set.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	ReviewDB  string  `yaml:"review_db" mapstructure:"review_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures run-health alerts.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ExhaustionRateThreshold float64 `yaml:"exhaustion_rate_threshold" mapstructure:"exhaustion_rate_threshold"`
	BlockRateThreshold      float64 `yaml:"block_rate_threshold" mapstructure:"block_rate_threshold"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// MinRuns is the number of runs in the window below which rates are
	// not alerted on.
	MinRuns int `yaml:"min_runs" mapstructure:"min_runs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PATTERNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "product-patterns.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("policy.critical_fields", []string{"price", "title", "currency"})
	v.SetDefault("policy.min_success_rate", validate.DefaultMinSuccessRate)
	v.SetDefault("policy.min_confidence_per_critical_field", 0.0)
	v.SetDefault("iterate.max_iterations", 3)
	v.SetDefault("iterate.refine_below_confidence", 0.5)
	v.SetDefault("iterate.prune_broken", true)
	v.SetDefault("draft.drafters", []string{"heuristic", "anthropic"})
	v.SetDefault("draft.per_field", 2)
	v.SetDefault("draft.narrow", true)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.digest_budget", 12000)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.rate_per_host", 1.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.max_body_bytes", 4<<20)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.jina_fallback", true)
	v.SetDefault("fetch.firecrawl_fallback", true)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.wait_for_ms", 1500)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("review.timeout_secs", 10)
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.exhaustion_rate_threshold", 0.5)
	v.SetDefault("monitoring.block_rate_threshold", 0.3)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_runs", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that cannot be acted on. All problems are
// reported together.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	for _, name := range c.Policy.CriticalFields {
		if !model.Field(name).Valid() {
			problems = append(problems, fmt.Sprintf("policy.critical_fields: unknown field %q", name))
		}
	}
	if c.Policy.MinSuccessRate < 0 || c.Policy.MinSuccessRate > 1 {
		problems = append(problems, "policy.min_success_rate must be between 0 and 1")
	}
	if c.Policy.MinConfidencePerCriticalField < 0 || c.Policy.MinConfidencePerCriticalField > 1 {
		problems = append(problems, "policy.min_confidence_per_critical_field must be between 0 and 1")
	}
	if c.Iterate.MaxIterations < 1 {
		problems = append(problems, "iterate.max_iterations must be >= 1")
	}
	if len(c.Draft.Drafters) == 0 {
		problems = append(problems, "draft.drafters must name at least one drafter")
	}
	for _, name := range c.Draft.Drafters {
		switch name {
		case "heuristic", "anthropic":
		default:
			problems = append(problems, fmt.Sprintf("draft.drafters: unknown drafter %q", name))
		}
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		problems = append(problems, "batch.concurrency must be between 1 and 50")
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"monitoring.exhaustion_rate_threshold", c.Monitoring.ExhaustionRateThreshold},
		{"monitoring.block_rate_threshold", c.Monitoring.BlockRateThreshold},
		{"monitoring.failure_rate_threshold", c.Monitoring.FailureRateThreshold},
	} {
		if th.value < 0 || th.value > 1 {
			problems = append(problems, th.name+" must be between 0 and 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsesDrafter reports whether name is among the configured drafters.
func (c *Config) UsesDrafter(name string) bool {
	for _, d := range c.Draft.Drafters {
		if d == name {
			return true
		}
	}
	return false
}

// ValidationPolicy builds the gate policy. The built-in critical fields
// are always part of the result.
func (c *Config) ValidationPolicy() validate.Policy {
	p := validate.Policy{
		MinSuccessRate:                c.Policy.MinSuccessRate,
		MinConfidencePerCriticalField: c.Policy.MinConfidencePerCriticalField,
	}
	for _, name := range c.Policy.CriticalFields {
		p.CriticalFields = append(p.CriticalFields, model.Field(name))
	}
	return p.Normalized()
}

// ControllerConfig builds the iteration controller's configuration.
func (c *Config) ControllerConfig() iterate.Config {
	return iterate.Config{
		MaxIterations:         c.Iterate.MaxIterations,
		RefineBelowConfidence: c.Iterate.RefineBelowConfidence,
		PruneBroken:           c.Iterate.PruneBroken,
		Policy:                c.ValidationPolicy(),
	}
}

// FetchTimeout returns the per-request fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSecs) * time.Second
}

// ReviewTimeout returns the review webhook timeout.
func (c *Config) ReviewTimeout() time.Duration {
	return time.Duration(c.Review.TimeoutSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
