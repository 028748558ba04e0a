package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gapscan/internal/dedup"
	"gapscan/internal/pattern"
	"gapscan/pkg/model"
)

// Config represents the application configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Scan     ScanConfig     `yaml:"scan"`
	Patterns pattern.Config `yaml:"patterns"`
	Policies PolicyConfig   `yaml:"policies"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// APIConfig holds the upstream market-data settings
type APIConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Key      string `yaml:"key"`
	// MIC is the ISO 10383 code of the scanned exchange
	MIC string `yaml:"mic"`
}

// SessionConfig holds the reauthentication settings
type SessionConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ScanConfig holds the scan loop settings
type ScanConfig struct {
	Universe         string        `yaml:"universe"`      // universe name or a file path
	UniverseFile     string        `yaml:"universe_file"` // explicit ticker file, overrides Universe
	ScanInterval     time.Duration `yaml:"scan_interval"`
	FatalSleep       time.Duration `yaml:"fatal_sleep"`
	IntradayLookback time.Duration `yaml:"intraday_lookback"`
	DailyLookback    time.Duration `yaml:"daily_lookback"`
	ExtendedHours    bool          `yaml:"extended_hours"`
	WaitForMarket    bool          `yaml:"wait_for_market"`
	// Screener refreshes the universe from the upstream scanner when
	// enabled; a failed refresh keeps the configured universe.
	Screener bool `yaml:"screener"`
}

// PolicyConfig holds the per-pattern alert throttles
type PolicyConfig struct {
	SupportCooldown        time.Duration `yaml:"support_cooldown"`
	SupportMaxPerDay       int           `yaml:"support_max_per_day"`
	ContinuationMaxPerDay  int           `yaml:"continuation_max_per_day"`
}

// DedupConfig holds the dedup store settings
type DedupConfig struct {
	Path string `yaml:"path"`
	// ClearSpec is a cron expression in exchange-local time
	ClearSpec string `yaml:"clear_spec"`
}

// NotifyConfig holds the notification settings
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  os.Getenv("GAPSCAN_API_URL"),
			Username: os.Getenv("GAPSCAN_API_USER"),
			Key:      os.Getenv("GAPSCAN_API_KEY"),
			MIC:      "xnys",
		},
		Session: SessionConfig{
			MaxRetries:   5,
			RetryBackoff: 15 * time.Second,
		},
		Scan: ScanConfig{
			Universe:         "smallcap",
			ScanInterval:     30 * time.Second,
			FatalSleep:       5 * time.Minute,
			IntradayLookback: 7 * time.Hour,
			DailyLookback:    14 * 24 * time.Hour,
			WaitForMarket:    true,
		},
		Patterns: pattern.DefaultConfig(),
		Policies: PolicyConfig{
			SupportCooldown:       30 * time.Minute,
			SupportMaxPerDay:      3,
			ContinuationMaxPerDay: 2,
		},
		Dedup: DedupConfig{
			Path:      "gapscan.db",
			ClearSpec: "45 16 * * 1-5",
		},
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if file doesn't exist
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Override with environment variables if set
	if url := os.Getenv("GAPSCAN_API_URL"); url != "" {
		cfg.API.BaseURL = url
	}
	if user := os.Getenv("GAPSCAN_API_USER"); user != "" {
		cfg.API.Username = user
	}
	if key := os.Getenv("GAPSCAN_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if hook := os.Getenv("GAPSCAN_WEBHOOK_URL"); hook != "" {
		cfg.Notify.WebhookURL = hook
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url (or GAPSCAN_API_URL) is required")
	}
	if c.API.Key == "" {
		return fmt.Errorf("api.key (or GAPSCAN_API_KEY) is required")
	}
	if c.Session.MaxRetries < 1 {
		return fmt.Errorf("session.max_retries must be at least 1")
	}
	if c.Scan.ScanInterval <= 0 {
		return fmt.Errorf("scan.scan_interval must be positive")
	}
	if c.Scan.IntradayLookback <= 0 || c.Scan.DailyLookback <= 0 {
		return fmt.Errorf("scan lookbacks must be positive")
	}
	if c.Dedup.Path == "" {
		return fmt.Errorf("dedup.path is required")
	}
	return nil
}

// GatePolicies maps the throttle settings onto the patterns they guard.
func (c *Config) GatePolicies() map[model.PatternName]dedup.Policy {
	return map[model.PatternName]dedup.Policy{
		model.PatternPrevDaySupport: {
			Cooldown:  c.Policies.SupportCooldown,
			MaxPerDay: c.Policies.SupportMaxPerDay,
		},
		model.PatternPrevDayContinuation: {
			MaxPerDay: c.Policies.ContinuationMaxPerDay,
		},
	}
}
