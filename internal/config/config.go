// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Form    FormConfig    `mapstructure:"form" yaml:"form"`
	License LicenseConfig `mapstructure:"license" yaml:"license"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch"`
	Records RecordsConfig `mapstructure:"records" yaml:"records"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// StoreConfig locates the field-memory record on disk.
type StoreConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	File string `mapstructure:"file" yaml:"file"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// FormConfig describes the layout of the target form. Selectors are resolved with
// the browser's DOM search, so both XPath and CSS are accepted. Question
// selectors are format strings taking the 1-based question ordinal.
type FormConfig struct {
	DefaultURL          string        `mapstructure:"default_url" yaml:"default_url"`
	QuestionControl     string        `mapstructure:"question_control" yaml:"question_control"`
	QuestionInput       string        `mapstructure:"question_input" yaml:"question_input"`
	QuestionText        string        `mapstructure:"question_text" yaml:"question_text"`
	OptionSelector      string        `mapstructure:"option_selector" yaml:"option_selector"`
	OptionAttribute     string        `mapstructure:"option_attribute" yaml:"option_attribute"`
	SubmitLabels        []string      `mapstructure:"submit_labels" yaml:"submit_labels"`
	SubmitSelector      string        `mapstructure:"submit_selector" yaml:"submit_selector"`
	AnotherResponse     string        `mapstructure:"another_response" yaml:"another_response"`
	ReadyTimeout        time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	OptionSettleTimeout time.Duration `mapstructure:"option_settle_timeout" yaml:"option_settle_timeout"`
}

// LicenseConfig maps accepted keys to their validity in days.
type LicenseConfig struct {
	Keys map[string]int `mapstructure:"keys" yaml:"keys"`
}

// BatchConfig configures repeated submissions.
type BatchConfig struct {
	Size        int           `mapstructure:"size" yaml:"size"`
	MaxSize     int           `mapstructure:"max_size" yaml:"max_size"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

// RecordsConfig selects the audit store backend.
type RecordsConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"-"`
}

// ArchiveConfig defines the GitHub repository receiving payload snapshots.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Token     string `mapstructure:"token" yaml:"-"`
	RepoOwner string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName  string `mapstructure:"repo_name" yaml:"repo_name"`
	Branch    string `mapstructure:"branch" yaml:"branch"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	// Timeout bounds one archive call, including the HTTP round trip.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AdminSecret     string        `mapstructure:"admin_secret" yaml:"-"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	EventBuffer     int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Store --
	v.SetDefault("store.dir", "~/.formpilot")
	v.SetDefault("store.file", "saved_fields.json")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.action_timeout", "20s")

	// -- Form --
	v.SetDefault("form.default_url", "https://forms.office.com/Pages/ResponsePage.aspx?id=phHE5xOQZ0mlsT0I-e3BPm4ZyCW04uxHi5LaP7rueIFURFdHNDFISEZVSUc4MFc4TEJOWVpJSTRWOSQlQCN0PWcu")
	v.SetDefault("form.question_control", "//*[@id='question-list']/div[%d]//div[@role='button']")
	v.SetDefault("form.question_input", "//*[@id='question-list']/div[%d]//input")
	v.SetDefault("form.question_text", "//*[@id='question-list']/div[%[1]d]//textarea | //*[@id='question-list']/div[%[1]d]//input")
	v.SetDefault("form.option_selector", "span[aria-label]")
	v.SetDefault("form.option_attribute", "aria-label")
	v.SetDefault("form.submit_labels", []string{"Enviar", "Submeter"})
	v.SetDefault("form.submit_selector", "//button[contains(., '%s')]")
	v.SetDefault("form.another_response", "//*[contains(text(), 'Enviar outra resposta')]")
	v.SetDefault("form.ready_timeout", "30s")
	v.SetDefault("form.navigation_timeout", "60s")
	v.SetDefault("form.option_settle_timeout", "5s")

	// -- License --
	v.SetDefault("license.keys", map[string]int{"THEMITO": 30, "THEMITO10": 90})

	// -- Batch --
	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.max_size", 60)
	v.SetDefault("batch.min_interval", "0s")

	// -- Records --
	v.SetDefault("records.driver", "sqlite")
	v.SetDefault("records.path", "submissions.db")

	// -- Archive --
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.branch", "main")
	v.SetDefault("archive.timeout", "15s")

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.event_buffer", 64)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("archive.token", "FORMPILOT_GITHUB_TOKEN")
	_ = v.BindEnv("server.admin_secret", "FORMPILOT_ADMIN_SECRET")
	_ = v.BindEnv("records.dsn", "FORMPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up
	if cfg.Archive.Enabled && cfg.Archive.Token == "" {
		cfg.Archive.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return errors.New("store.dir must not be empty")
	}
	if len(c.License.Keys) == 0 {
		return errors.New("license.keys must define at least one key")
	}
	for key, days := range c.License.Keys {
		if days <= 0 {
			return fmt.Errorf("license.keys.%s must be a positive number of days", key)
		}
	}
	if c.Batch.Size <= 0 {
		return errors.New("batch.size must be a positive integer")
	}
	if c.Batch.MaxSize < c.Batch.Size {
		return fmt.Errorf("batch.max_size (%d) must be >= batch.size (%d)", c.Batch.MaxSize, c.Batch.Size)
	}
	if len(c.Form.SubmitLabels) == 0 {
		return errors.New("form.submit_labels must contain at least one label")
	}
	switch strings.ToLower(c.Records.Driver) {
	case "sqlite", "none", "":
	case "postgres":
		if c.Records.DSN == "" {
			return errors.New("records.dsn is required when records.driver is postgres")
		}
	default:
		return fmt.Errorf("unsupported records.driver %q", c.Records.Driver)
	}
	return c.Archive.Validate()
}

// Validate checks the archive configuration when enabled.
func (a ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Token == "" {
		return errors.New("archive.token is required when archive is enabled")
	}
	if a.RepoOwner == "" || a.RepoName == "" {
		return errors.New("archive.repo_owner and archive.repo_name are required when archive is enabled")
	}
	if a.Timeout <= 0 {
		return errors.New("archive.timeout must be positive when archive is enabled")
	}
	return nil
}
