package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/wait"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Directory types the extractor knows how to open.
const (
	DirectoryFollowers = "followers"
	DirectoryFollowing = "following"
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Target     TargetConfig     `mapstructure:"target"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Run        RunConfig        `mapstructure:"run"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// TypingConfig shapes the humanized keystroke timing.
type TypingConfig struct {
	KeyDelay wait.Range `mapstructure:"key_delay"`
}

// PointerConfig shapes the pointer movement made before each click.
type PointerConfig struct {
	Enabled   bool       `mapstructure:"enabled"`
	MinSteps  int        `mapstructure:"min_steps"`
	Drift     float64    `mapstructure:"drift"`
	StepDelay wait.Range `mapstructure:"step_delay"`
}

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Headless      bool           `mapstructure:"headless"`
	ExecPath      string         `mapstructure:"exec_path"`
	UserAgent     string         `mapstructure:"user_agent"`
	Args          []string       `mapstructure:"args"`
	Viewport      ViewportConfig `mapstructure:"viewport"`
	BlockedURLs   []string       `mapstructure:"blocked_urls"`
	ActionTimeout time.Duration  `mapstructure:"action_timeout"`
	Typing        TypingConfig   `mapstructure:"typing"`
	Pointer       PointerConfig  `mapstructure:"pointer"`
	Debug         bool           `mapstructure:"debug"`
}

// AuthConfig drives the scripted login. Username and Password are normally
// supplied through CENSUS_USERNAME and CENSUS_PASSWORD.
type AuthConfig struct {
	LoginURL        string            `mapstructure:"login_url"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	ConsentButtons  []schemas.Locator `mapstructure:"consent_buttons"`
	UsernameField   schemas.Locator   `mapstructure:"username_field"`
	PasswordField   schemas.Locator   `mapstructure:"password_field"`
	SubmitButton    schemas.Locator   `mapstructure:"submit_button"`
	Rejected        []schemas.Locator `mapstructure:"rejected"`
	LoggedIn        []schemas.Locator `mapstructure:"logged_in"`
	DismissButtons  []schemas.Locator `mapstructure:"dismiss_buttons"`
	DismissRounds   int               `mapstructure:"dismiss_rounds"`
	ConsentTimeout  time.Duration     `mapstructure:"consent_timeout"`
	FieldTimeout    time.Duration     `mapstructure:"field_timeout"`
	SubmitTimeout   time.Duration     `mapstructure:"submit_timeout"`
	RejectedTimeout time.Duration     `mapstructure:"rejected_timeout"`
	ConfirmTimeout  time.Duration     `mapstructure:"confirm_timeout"`
	DismissTimeout  time.Duration     `mapstructure:"dismiss_timeout"`
	LoadSettle      wait.Range        `mapstructure:"load_settle"`
	FieldPause      wait.Range        `mapstructure:"field_pause"`
	SubmitSettle    wait.Range        `mapstructure:"submit_settle"`
	DismissSettle   wait.Range        `mapstructure:"dismiss_settle"`
}

// TargetConfig names the directory to harvest.
type TargetConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Owner     string `mapstructure:"owner"`
	Directory string `mapstructure:"directory"`
	Count     int    `mapstructure:"count"`
}

// ExtractionConfig bounds the Phase A pagination loop.
type ExtractionConfig struct {
	MaxNoProgress    int               `mapstructure:"max_no_progress"`
	MaxAttempts      int               `mapstructure:"max_attempts"`
	ReservedPrefixes []string          `mapstructure:"reserved_prefixes"`
	PanelLocators    []schemas.Locator `mapstructure:"panel_locators"`
	NotFound         []schemas.Locator `mapstructure:"not_found"`
	LinkTimeout      time.Duration     `mapstructure:"link_timeout"`
	PanelTimeout     time.Duration     `mapstructure:"panel_timeout"`
	ProfileSettle    wait.Range        `mapstructure:"profile_settle"`
	OpenSettle       wait.Range        `mapstructure:"open_settle"`
	InitialSettle    wait.Range        `mapstructure:"initial_settle"`
	PageSettle       wait.Range        `mapstructure:"page_settle"`
	DiagnosticsEvery int               `mapstructure:"diagnostics_every"`
}

// PoolConfig sizes and paces the Phase B fetch pool.
type PoolConfig struct {
	Workers           int               `mapstructure:"workers"`
	NavigateTimeout   time.Duration     `mapstructure:"navigate_timeout"`
	ItemTimeout       time.Duration     `mapstructure:"item_timeout"`
	PrimaryTimeout    time.Duration     `mapstructure:"primary_timeout"`
	ContentSettle     time.Duration     `mapstructure:"content_settle"`
	Pacing            wait.Range        `mapstructure:"pacing"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
	NotFound          []schemas.Locator `mapstructure:"not_found"`
}

// RunConfig controls the run as a whole.
type RunConfig struct {
	Deadline   time.Duration `mapstructure:"deadline"`
	OutputDir  string        `mapstructure:"output_dir"`
	CookieDump bool          `mapstructure:"cookie_dump"`
	WriteCSV   bool          `mapstructure:"write_csv"`
	WriteText  bool          `mapstructure:"write_text"`
	WriteJSON  bool          `mapstructure:"write_json"`
}

// PostgresConfig holds settings for the database connection. An empty URL
// disables persistence.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// NewFromViper unmarshals the configuration held by v.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Target.Directory = strings.ToLower(strings.TrimSpace(cfg.Target.Directory))
	cfg.Target.Owner = strings.TrimSpace(cfg.Target.Owner)
	return &cfg, nil
}

// Set stores the process-wide configuration.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Set() in the root command.")
	}
	return instance
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is only an
// error when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// Validate checks the configuration before anything touches the network.
func (c *Config) Validate() error {
	var errs []error

	if c.Target.Owner == "" {
		errs = append(errs, errors.New("target.owner is a required configuration field"))
	}
	switch c.Target.Directory {
	case DirectoryFollowers, DirectoryFollowing:
	default:
		errs = append(errs, fmt.Errorf("target.directory must be %q or %q, got %q", DirectoryFollowers, DirectoryFollowing, c.Target.Directory))
	}
	if c.Target.Count <= 0 {
		errs = append(errs, errors.New("target.count must be a positive integer"))
	}
	if c.Target.BaseURL == "" {
		errs = append(errs, errors.New("target.base_url is a required configuration field"))
	}
	if c.Pool.Workers < 1 {
		errs = append(errs, errors.New("pool.workers must be a positive integer"))
	}
	if c.Pool.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("pool.requests_per_second must not be negative"))
	}
	if c.Extraction.MaxNoProgress <= 0 {
		errs = append(errs, errors.New("extraction.max_no_progress must be a positive integer"))
	}
	if c.Extraction.MaxAttempts <= 0 {
		errs = append(errs, errors.New("extraction.max_attempts must be a positive integer"))
	}
	if len(c.Extraction.PanelLocators) == 0 {
		errs = append(errs, errors.New("extraction.panel_locators must not be empty"))
	}
	if c.Auth.LoginURL == "" {
		errs = append(errs, errors.New("auth.login_url is a required configuration field"))
	}
	for _, loc := range c.locators() {
		if err := validateLocator(loc); err != nil {
			errs = append(errs, err)
		}
	}
	for name, r := range map[string]wait.Range{
		"auth.load_settle":           c.Auth.LoadSettle,
		"auth.field_pause":           c.Auth.FieldPause,
		"auth.submit_settle":         c.Auth.SubmitSettle,
		"auth.dismiss_settle":        c.Auth.DismissSettle,
		"extraction.profile_settle":  c.Extraction.ProfileSettle,
		"extraction.open_settle":     c.Extraction.OpenSettle,
		"extraction.initial_settle":  c.Extraction.InitialSettle,
		"extraction.page_settle":     c.Extraction.PageSettle,
		"pool.pacing":                c.Pool.Pacing,
		"browser.typing.key_delay":   c.Browser.Typing.KeyDelay,
		"browser.pointer.step_delay": c.Browser.Pointer.StepDelay,
	} {
		if r.Min < 0 || r.Max < r.Min {
			errs = append(errs, fmt.Errorf("%s must satisfy 0 <= min <= max", name))
		}
	}

	return errors.Join(errs...)
}

// Credentials returns the login credentials, failing when either is missing.
func (c *Config) Credentials() (schemas.Credentials, error) {
	if c.Auth.Username == "" || c.Auth.Password == "" {
		return schemas.Credentials{}, errors.New("credentials missing: set CENSUS_USERNAME and CENSUS_PASSWORD")
	}
	return schemas.Credentials{Username: c.Auth.Username, Password: c.Auth.Password}, nil
}

func (c *Config) locators() []schemas.Locator {
	locs := []schemas.Locator{c.Auth.UsernameField, c.Auth.PasswordField, c.Auth.SubmitButton}
	locs = append(locs, c.Auth.ConsentButtons...)
	locs = append(locs, c.Auth.Rejected...)
	locs = append(locs, c.Auth.LoggedIn...)
	locs = append(locs, c.Auth.DismissButtons...)
	locs = append(locs, c.Extraction.PanelLocators...)
	locs = append(locs, c.Extraction.NotFound...)
	locs = append(locs, c.Pool.NotFound...)
	return locs
}

func validateLocator(loc schemas.Locator) error {
	switch loc.Strategy {
	case schemas.LocatorCSS, schemas.LocatorXPath:
	default:
		return fmt.Errorf("locator %q has unknown strategy %q", loc.Expr, loc.Strategy)
	}
	if strings.TrimSpace(loc.Expr) == "" {
		return fmt.Errorf("locator with strategy %q has an empty expression", loc.Strategy)
	}
	return nil
}
