package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every option of the ingestion pipeline. It is built once by the
// CLI and handed to each component constructor.
type Config struct {
	// Source channels and scraping window
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`

	// Request pacing and rate-limit handling
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Data lake layout
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Object detection collaborator
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`

	// Warehouse connection
	Warehouse WarehouseConfig `yaml:"warehouse" json:"warehouse"`

	// dbt transformation
	Transform TransformConfig `yaml:"transform" json:"transform"`

	// Daily trigger
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Health and metrics endpoint
	Ops OpsConfig `yaml:"ops" json:"ops"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TelegramConfig holds the channel list and per-channel scrape limits
type TelegramConfig struct {
	Channels       []string      `yaml:"channels" json:"channels"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	MaxMessages    int           `yaml:"max_messages" json:"max_messages"`
	Window         time.Duration `yaml:"window" json:"window"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// RateLimitConfig holds request pacing and flood-wait handling
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	// MaxFloodRetries bounds consecutive rate-limit retries per channel. 0 means unlimited.
	MaxFloodRetries int `yaml:"max_flood_retries" json:"max_flood_retries"`
	// DefaultWait is used when a 429 response carries no Retry-After header.
	DefaultWait time.Duration `yaml:"default_wait" json:"default_wait"`
}

// StorageConfig holds the data lake root and bookkeeping paths
type StorageConfig struct {
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	RunsDir  string `yaml:"runs_dir" json:"runs_dir"`
	LockFile string `yaml:"lock_file" json:"lock_file"`
}

// EnrichmentConfig holds the detection service settings
type EnrichmentConfig struct {
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Workers    int           `yaml:"workers" json:"workers"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	Extensions []string      `yaml:"extensions" json:"extensions"`
}

// WarehouseConfig holds the warehouse connection settings
type WarehouseConfig struct {
	Driver         string        `yaml:"driver" json:"driver"`
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	User           string        `yaml:"user" json:"user"`
	Password       string        `yaml:"password" json:"password"`
	Database       string        `yaml:"database" json:"database"`
	SSLMode        string        `yaml:"ssl_mode" json:"ssl_mode"`
	Path           string        `yaml:"path" json:"path"`
	ConnectRetries int           `yaml:"connect_retries" json:"connect_retries"`
	ConnectBackoff time.Duration `yaml:"connect_backoff" json:"connect_backoff"`
}

// TransformConfig holds the dbt invocation
type TransformConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Binary      string   `yaml:"binary" json:"binary"`
	ProjectDir  string   `yaml:"project_dir" json:"project_dir"`
	ProfilesDir string   `yaml:"profiles_dir" json:"profiles_dir"`
	ExtraArgs   []string `yaml:"extra_args" json:"extra_args"`
}

// ScheduleConfig holds the daily trigger time
type ScheduleConfig struct {
	// Time is the local clock time of the daily trigger, formatted HH:MM.
	Time     string `yaml:"time" json:"time"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

// OpsConfig holds the ops HTTP endpoint settings
type OpsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with the production defaults
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Channels:       []string{"tikvahpharma", "lobelia4cosmetics", "CheMed123"},
			BaseURL:        "https://t.me",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			MaxMessages:    200,
			Window:         24 * time.Hour,
			RequestTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			MaxFloodRetries:   5,
			DefaultWait:       30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:  "data",
			RunsDir:  filepath.Join("data", "runs"),
			LockFile: filepath.Join("data", ".pipeline.lock"),
		},
		Enrichment: EnrichmentConfig{
			Endpoint:   "http://localhost:8000",
			Model:      "yolov8x.pt",
			Workers:    2,
			Timeout:    60 * time.Second,
			Extensions: []string{".png", ".jpg", ".jpeg"},
		},
		Warehouse: WarehouseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Database:       "medical_warehouse",
			SSLMode:        "disable",
			Path:           filepath.Join("data", "warehouse.db"),
			ConnectRetries: 3,
			ConnectBackoff: time.Second,
		},
		Transform: TransformConfig{
			Enabled:     true,
			Binary:      "dbt",
			ProjectDir:  "analytics",
			ProfilesDir: "dbt_profiles",
		},
		Schedule: ScheduleConfig{
			Time:     "00:00",
			Timezone: "Africa/Addis_Ababa",
		},
		Ops: OpsConfig{
			Enabled: true,
			Listen:  ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv overrides values from environment variables. The POSTGRES_*
// names are honoured so an existing .env for the warehouse keeps working.
func (c *Config) LoadFromEnv() error {
	var errs []error

	if channels := os.Getenv("TGPIPE_CHANNELS"); channels != "" {
		c.Telegram.Channels = sanitizeChannels(splitList(channels))
	}
	if baseURL := os.Getenv("TGPIPE_TELEGRAM_URL"); baseURL != "" {
		c.Telegram.BaseURL = baseURL
	}
	if v := os.Getenv("TGPIPE_MAX_MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TGPIPE_MAX_MESSAGES: %w", err))
		} else {
			c.Telegram.MaxMessages = n
		}
	}
	if v := os.Getenv("TGPIPE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TGPIPE_WINDOW: %w", err))
		} else {
			c.Telegram.Window = d
		}
	}
	if v := os.Getenv("TGPIPE_MAX_FLOOD_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TGPIPE_MAX_FLOOD_RETRIES: %w", err))
		} else {
			c.RateLimit.MaxFloodRetries = n
		}
	}

	if dataDir := os.Getenv("TGPIPE_DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if endpoint := os.Getenv("TGPIPE_DETECTOR_URL"); endpoint != "" {
		c.Enrichment.Endpoint = endpoint
	}
	if apiKey := os.Getenv("TGPIPE_DETECTOR_API_KEY"); apiKey != "" {
		c.Enrichment.APIKey = apiKey
	}

	if driver := os.Getenv("TGPIPE_WAREHOUSE_DRIVER"); driver != "" {
		c.Warehouse.Driver = driver
	}
	if path := os.Getenv("TGPIPE_WAREHOUSE_PATH"); path != "" {
		c.Warehouse.Path = path
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		c.Warehouse.Database = db
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		c.Warehouse.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		c.Warehouse.Password = password
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		c.Warehouse.Host = host
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("POSTGRES_PORT: %w", err))
		} else {
			c.Warehouse.Port = port
		}
	}

	if v := os.Getenv("TGPIPE_SCHEDULE_TIME"); v != "" {
		c.Schedule.Time = v
	}
	if tz := os.Getenv("TGPIPE_TIMEZONE"); tz != "" {
		c.Schedule.Timezone = tz
	}
	if listen := os.Getenv("TGPIPE_OPS_LISTEN"); listen != "" {
		c.Ops.Listen = listen
	}
	if logLevel := os.Getenv("TGPIPE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.Telegram.Channels = sanitizeChannels(c.Telegram.Channels)

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".tgpipeline.yaml",
		".tgpipeline.yml",
		filepath.Join(home, ".config", "tgpipeline", "config.yaml"),
		filepath.Join(home, ".config", "tgpipeline", "config.yml"),
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

	if len(c.Telegram.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel is required"))
	}
	for _, ch := range c.Telegram.Channels {
		if !IsValidChannel(ch) {
			errs = append(errs, fmt.Errorf("invalid channel name %q", ch))
		}
	}
	if _, err := url.Parse(c.Telegram.BaseURL); err != nil || c.Telegram.BaseURL == "" {
		errs = append(errs, errors.New("telegram base url is invalid"))
	}
	if c.Telegram.MaxMessages <= 0 {
		errs = append(errs, errors.New("max messages must be positive"))
	}
	if c.Telegram.Window <= 0 {
		errs = append(errs, errors.New("scrape window must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxFloodRetries < 0 {
		errs = append(errs, errors.New("max flood retries cannot be negative"))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}

	if c.Enrichment.Workers <= 0 {
		errs = append(errs, errors.New("enrichment workers must be positive"))
	}
	if len(c.Enrichment.Extensions) == 0 {
		errs = append(errs, errors.New("at least one image extension is required"))
	}

	switch c.Warehouse.Driver {
	case "postgres":
		if c.Warehouse.Host == "" || c.Warehouse.Database == "" {
			errs = append(errs, errors.New("postgres host and database are required"))
		}
	case "sqlite":
		if c.Warehouse.Path == "" {
			errs = append(errs, errors.New("sqlite path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported warehouse driver %q", c.Warehouse.Driver))
	}

	if _, err := c.Schedule.CronSpec(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, err)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, errors.New("log format must be console or json"))
	}

	return errors.Join(errs...)
}

// CronSpec converts the HH:MM trigger time into a standard five-field cron spec
func (s ScheduleConfig) CronSpec() (string, error) {
	t, err := time.Parse("15:04", s.Time)
	if err != nil {
		return "", fmt.Errorf("schedule time %q must be HH:MM: %w", s.Time, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// Location resolves the schedule time zone
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// DSN returns the driver-specific connection string
func (w WarehouseConfig) DSN() string {
	if w.Driver == "sqlite" {
		return w.Path
	}
	parts := []string{
		"host=" + w.Host,
		"port=" + strconv.Itoa(w.Port),
		"user=" + w.User,
		"dbname=" + w.Database,
		"sslmode=" + w.SSLMode,
	}
	if w.Password != "" {
		parts = append(parts, "password="+w.Password)
	}
	return strings.Join(parts, " ")
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
	if channels, ok := flags["channels"].([]string); ok && len(channels) > 0 {
		c.Telegram.Channels = sanitizeChannels(channels)
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if driver, ok := flags["warehouse-driver"].(string); ok && driver != "" {
		c.Warehouse.Driver = driver
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if noTransform, ok := flags["skip-transform"].(bool); ok && noTransform {
		c.Transform.Enabled = false
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	// Bookkeeping paths follow the data directory unless set explicitly.
	if config.Storage.RunsDir == filepath.Join("data", "runs") && config.Storage.DataDir != "data" {
		config.Storage.RunsDir = filepath.Join(config.Storage.DataDir, "runs")
	}
	if config.Storage.LockFile == filepath.Join("data", ".pipeline.lock") && config.Storage.DataDir != "data" {
		config.Storage.LockFile = filepath.Join(config.Storage.DataDir, ".pipeline.lock")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
