package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the redbook crawler
type Config struct {
	// Platform session settings
	Session SessionConfig `yaml:"session" json:"session"`

	// Request pacing configuration
	Pacing PacingConfig `yaml:"pacing" json:"pacing"`

	// Gateway retry configuration
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Media download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Persistence settings
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Poll scheduler settings
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SessionConfig holds platform session configuration. SignerURL points at
// the signing service that evaluates the platform's browser bundle; API
// calls cannot be made without one.
type SessionConfig struct {
	Account   string `yaml:"account" json:"account"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	SignerURL string `yaml:"signer_url" json:"signer_url"`
}

// PacingConfig tunes the step-function pacer. The step table keys on
// divisibility of the visit counter; see pkg/pacer.
type PacingConfig struct {
	BaseInterval time.Duration `yaml:"base_interval" json:"base_interval"`
	Scale        float64       `yaml:"scale" json:"scale"`
	JitterBand   float64       `yaml:"jitter_band" json:"jitter_band"`
	IdleReset    time.Duration `yaml:"idle_reset" json:"idle_reset"`
	PollSlice    time.Duration `yaml:"poll_slice" json:"poll_slice"`
}

// RetryConfig holds gateway retry configuration
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	CooldownUnit time.Duration `yaml:"cooldown_unit" json:"cooldown_unit"`
}

// DownloadConfig holds media download configuration
type DownloadConfig struct {
	Workers           int           `yaml:"workers" json:"workers"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	Cooldown          time.Duration `yaml:"cooldown" json:"cooldown"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Fatal404          bool          `yaml:"fatal_404" json:"fatal_404"`
	MediaDir          string        `yaml:"media_dir" json:"media_dir"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// SchedulerConfig holds poll scheduler configuration
type SchedulerConfig struct {
	WorkBudget  time.Duration `yaml:"work_budget" json:"work_budget"`
	CycleWindow time.Duration `yaml:"cycle_window" json:"cycle_window"`
	PageSize    int           `yaml:"page_size" json:"page_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	CaptureDir string `yaml:"capture_dir" json:"capture_dir"`
}

// DefaultConfig returns a Config instance with sensible defaults. Retry
// counts, pacing steps and the 404 policy are all tunable; the defaults
// favor staying unblocked over throughput.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Session: SessionConfig{
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.5112.79 Safari/537.36",
		},
		Pacing: PacingConfig{
			BaseInterval: 2 * time.Second,
			Scale:        5.0,
			JitterBand:   0.1,
			IdleReset:    time.Hour,
			PollSlice:    100 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxAttempts:  30,
			CooldownUnit: 30 * time.Second,
		},
		Download: DownloadConfig{
			Workers:           8,
			Timeout:           60 * time.Second,
			MaxAttempts:       5,
			Cooldown:          15 * time.Second,
			RequestsPerSecond: 4,
			Fatal404:          false,
			MediaDir:          filepath.Join(home, "Pictures", "RedBook"),
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(home, ".local", "share", "redbook", "redbook.db"),
		},
		Scheduler: SchedulerConfig{
			WorkBudget:  30 * time.Minute,
			CycleWindow: 30 * 24 * time.Hour,
			PageSize:    30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			CaptureDir: filepath.Join(home, "Pictures", "RedBook"),
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if account := os.Getenv("REDBOOK_ACCOUNT"); account != "" {
		c.Session.Account = account
	}
	if userAgent := os.Getenv("REDBOOK_USER_AGENT"); userAgent != "" {
		c.Session.UserAgent = userAgent
	}
	if signerURL := os.Getenv("REDBOOK_SIGNER_URL"); signerURL != "" {
		c.Session.SignerURL = signerURL
	}
	if dbPath := os.Getenv("REDBOOK_DATABASE_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}
	if mediaDir := os.Getenv("REDBOOK_MEDIA_DIR"); mediaDir != "" {
		c.Download.MediaDir = mediaDir
	}
	if workers := os.Getenv("REDBOOK_DOWNLOAD_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Download.Workers = val
		}
	}
	if attempts := os.Getenv("REDBOOK_MAX_ATTEMPTS"); attempts != "" {
		var val int
		fmt.Sscanf(attempts, "%d", &val)
		if val > 0 {
			c.Retry.MaxAttempts = val
		}
	}
	if logLevel := os.Getenv("REDBOOK_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".redbook.yaml",
		".redbook.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "redbook", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "redbook", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".redbook.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Pacing.BaseInterval <= 0 {
		errs = append(errs, errors.New("pacing base interval must be positive"))
	}
	if c.Pacing.Scale <= 0 {
		errs = append(errs, errors.New("pacing scale must be positive"))
	}
	if c.Pacing.JitterBand < 0 || c.Pacing.JitterBand >= 1 {
		errs = append(errs, errors.New("pacing jitter band must be in [0, 1)"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("download workers must be positive"))
	}
	if c.Download.Workers > 16 {
		errs = append(errs, errors.New("download workers should not exceed 16"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.MediaDir == "" {
		errs = append(errs, errors.New("media directory is required"))
	}
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Scheduler.WorkBudget <= 0 {
		errs = append(errs, errors.New("scheduler work budget must be positive"))
	}
	if c.Scheduler.PageSize <= 0 || c.Scheduler.PageSize > 30 {
		errs = append(errs, errors.New("scheduler page size must be in (0, 30]"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Session.Account = account
	}
	if mediaDir, ok := flags["media-dir"].(string); ok && mediaDir != "" {
		c.Download.MediaDir = mediaDir
	}
	if dbPath, ok := flags["database"].(string); ok && dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Download.Workers = workers
	}
	if budget, ok := flags["work-budget"].(time.Duration); ok && budget > 0 {
		c.Scheduler.WorkBudget = budget
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".redbook.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
