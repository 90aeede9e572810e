// Package config loads the application configuration from a yaml file
// and/or environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// BrowserPoolConfig controls the pool of headless browser instances.
type BrowserPoolConfig struct {
	MinSize                int   `yaml:"min_size" env:"POOL_MIN_SIZE" env-default:"1"`
	MaxSize                int   `yaml:"max_size" env:"POOL_MAX_SIZE" env-default:"3"`
	MaxRequestsPerInstance int64 `yaml:"max_requests_per_instance" env:"POOL_MAX_REQUESTS" env-default:"50"`
	BrowserLifetimeMS      int   `yaml:"browser_lifetime_ms" env:"POOL_BROWSER_LIFETIME_MS" env-default:"1800000"`
	IdleTimeoutMS          int   `yaml:"idle_timeout_ms" env:"POOL_IDLE_TIMEOUT_MS" env-default:"300000"`
	MaintenanceIntervalMS  int   `yaml:"maintenance_interval_ms" env:"POOL_MAINTENANCE_INTERVAL_MS" env-default:"60000"`
}

func (c BrowserPoolConfig) BrowserLifetime() time.Duration {
	return time.Duration(c.BrowserLifetimeMS) * time.Millisecond
}

func (c BrowserPoolConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

func (c BrowserPoolConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalMS) * time.Millisecond
}

// CacheConfig controls the fetch result cache.
type CacheConfig struct {
	MaxSizeBytes int64  `yaml:"max_size_bytes" env:"CACHE_MAX_SIZE_BYTES" env-default:"52428800"`
	MaxEntries   int    `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1000"`
	DefaultTTLMS int    `yaml:"default_ttl_ms" env:"CACHE_DEFAULT_TTL_MS" env-default:"600000"`
	Evictor      string `yaml:"evictor" env:"CACHE_EVICTOR" env-default:"scored"`
	SweepEveryMS int    `yaml:"sweep_every_ms" env:"CACHE_SWEEP_EVERY_MS" env-default:"60000"`
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMS) * time.Millisecond
}

func (c CacheConfig) SweepEvery() time.Duration {
	return time.Duration(c.SweepEveryMS) * time.Millisecond
}

// RateLimitConfig controls the per-domain adaptive delay.
type RateLimitConfig struct {
	BaseDelayMS int `yaml:"base_delay_ms" env:"RATELIMIT_BASE_DELAY_MS" env-default:"1000"`
	MaxDelayMS  int `yaml:"max_delay_ms" env:"RATELIMIT_MAX_DELAY_MS" env-default:"120000"`
}

func (c RateLimitConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c RateLimitConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// TierBudgetsConfig is the per-tier wall-clock budget.
type TierBudgetsConfig struct {
	FastMS     int `yaml:"fast_ms" env:"BUDGET_FAST_MS" env-default:"5000"`
	ReferralMS int `yaml:"referral_ms" env:"BUDGET_REFERRAL_MS" env-default:"15000"`
	StealthMS  int `yaml:"stealth_ms" env:"BUDGET_STEALTH_MS" env-default:"25000"`
}

func (c TierBudgetsConfig) Fast() time.Duration {
	return time.Duration(c.FastMS) * time.Millisecond
}

func (c TierBudgetsConfig) Referral() time.Duration {
	return time.Duration(c.ReferralMS) * time.Millisecond
}

func (c TierBudgetsConfig) Stealth() time.Duration {
	return time.Duration(c.StealthMS) * time.Millisecond
}

// RecoveryConfig holds the retry delays of the recovery planner. They are
// hand-tuned values, kept configurable on purpose.
type RecoveryConfig struct {
	CaptchaDelayMS    int `yaml:"captcha_delay_ms" env:"RECOVERY_CAPTCHA_DELAY_MS" env-default:"30000"`
	HardBlockDelayMS  int `yaml:"hard_block_delay_ms" env:"RECOVERY_HARD_BLOCK_DELAY_MS" env-default:"60000"`
	NetworkBaseMS     int `yaml:"network_base_ms" env:"RECOVERY_NETWORK_BASE_MS" env-default:"1000"`
	NetworkMaxMS      int `yaml:"network_max_ms" env:"RECOVERY_NETWORK_MAX_MS" env-default:"30000"`
	TimeoutShortMS    int `yaml:"timeout_short_ms" env:"RECOVERY_TIMEOUT_SHORT_MS" env-default:"2000"`
	TimeoutExtendedMS int `yaml:"timeout_extended_ms" env:"RECOVERY_TIMEOUT_EXTENDED_MS" env-default:"3000"`
	BrowserCrashMS    int `yaml:"browser_crash_ms" env:"RECOVERY_BROWSER_CRASH_MS" env-default:"5000"`
	BrowserContextMS  int `yaml:"browser_context_ms" env:"RECOVERY_BROWSER_CONTEXT_MS" env-default:"3000"`
	MemoryMS          int `yaml:"memory_ms" env:"RECOVERY_MEMORY_MS" env-default:"10000"`
	PoolExhaustedMS   int `yaml:"pool_exhausted_ms" env:"RECOVERY_POOL_EXHAUSTED_MS" env-default:"15000"`
	RateLimitUnitMS   int `yaml:"rate_limit_unit_ms" env:"RECOVERY_RATE_LIMIT_UNIT_MS" env-default:"60000"`
	CPUMS             int `yaml:"cpu_ms" env:"RECOVERY_CPU_MS" env-default:"5000"`
}

// TargetConfig is one monitored listing page.
type TargetConfig struct {
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
	Priority int    `yaml:"priority"`
}

// NotifyConfig configures the telegram notifier. With an empty token,
// notifications only go to the log.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	TelegramChatID string `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
}

// Config defines the overall structure of the monitor configuration.
// Values will be taken from a config yml file or environment variables
// or both.
type Config struct {
	UserAgent       string            `yaml:"user_agent" env:"USER_AGENT" env-default:"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"`
	MaxConcurrency  int               `yaml:"max_concurrency" env:"MAX_CONCURRENCY" env-default:"4"`
	MaxAttempts     int               `yaml:"max_attempts" env:"MAX_ATTEMPTS" env-default:"6"`
	TaskBudgetMS    int               `yaml:"task_budget_ms" env:"TASK_BUDGET_MS" env-default:"90000"`
	CronSpec        string            `yaml:"cron_spec" env:"CRON_SPEC" env-default:"@every 5m"`
	MetricsAddr     string            `yaml:"metrics_addr" env:"METRICS_ADDR"`
	DatabasePath    string            `yaml:"database_path" env:"DATABASE_PATH" env-default:"flatwatch.db"`
	WarmupURL       string            `yaml:"warmup_url" env:"WARMUP_URL" env-default:"https://www.wikipedia.org/"`
	SearchURLFormat string            `yaml:"search_url_format" env:"SEARCH_URL_FORMAT" env-default:"https://www.google.com/search?q=site:%s"`
	BrowserPool     BrowserPoolConfig `yaml:"browser_pool"`
	Cache           CacheConfig       `yaml:"cache"`
	RateLimit       RateLimitConfig   `yaml:"rate_limit"`
	TierBudgets     TierBudgetsConfig `yaml:"tier_budgets"`
	Recovery        RecoveryConfig    `yaml:"recovery"`
	Notify          NotifyConfig      `yaml:"notify"`
	Targets         []TargetConfig    `yaml:"targets"`
}

func (c Config) TaskBudget() time.Duration {
	return time.Duration(c.TaskBudgetMS) * time.Millisecond
}

// New reads the configuration from the given path, falling back to
// environment variables only when the file does not exist.
func New(configPath string) (*Config, error) {
	var config Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&config); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	} else {
		if err := cleanenv.ReadConfig(configPath, &config); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.BrowserPool.MinSize < 0 || c.BrowserPool.MaxSize < 1 {
		return fmt.Errorf("browser pool sizes out of range: min=%d max=%d", c.BrowserPool.MinSize, c.BrowserPool.MaxSize)
	}
	if c.BrowserPool.MinSize > c.BrowserPool.MaxSize {
		return fmt.Errorf("browser pool min size %d exceeds max size %d", c.BrowserPool.MinSize, c.BrowserPool.MaxSize)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.RateLimit.BaseDelayMS > c.RateLimit.MaxDelayMS {
		return fmt.Errorf("rate limit base delay %dms exceeds max delay %dms", c.RateLimit.BaseDelayMS, c.RateLimit.MaxDelayMS)
	}
	return nil
}
