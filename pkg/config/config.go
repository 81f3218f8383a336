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
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pricescraper/pkg/models"
)

// Config holds all configuration options for the price scraper
type Config struct {
	// Vehicle catalog service
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// Price persistence service
	PriceStore PriceStoreConfig `yaml:"price_store" json:"price_store"`

	// Marketplace scraping runs
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Session pool handed to source scrapers
	Sessions SessionConfig `yaml:"sessions" json:"sessions"`

	// Registered marketplace sources, in dispatch order
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Monthly FIPE valuation job
	Fipe FipeConfig `yaml:"fipe" json:"fipe"`

	// Trigger timing
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Optional direct Postgres access
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Read-only status endpoint
	Status StatusConfig `yaml:"status" json:"status"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CatalogConfig points at the vehicle catalog
type CatalogConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Models            []string      `yaml:"models" json:"models"`
}

// PriceStoreConfig points at the price persistence service
type PriceStoreConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// ScrapeConfig controls the hourly fan-out
type ScrapeConfig struct {
	Workers       int               `yaml:"workers" json:"workers"`
	QueueSize     int               `yaml:"queue_size" json:"queue_size"`
	UnitTimeout   time.Duration     `yaml:"unit_timeout" json:"unit_timeout"`
	IngestTimeout time.Duration     `yaml:"ingest_timeout" json:"ingest_timeout"`
	VehicleType   string            `yaml:"vehicle_type" json:"vehicle_type"`
	SourceTag     string            `yaml:"source_tag" json:"source_tag"`
	BrandAliases  map[string]string `yaml:"brand_aliases" json:"brand_aliases"`
}

// SessionConfig controls the session pool
type SessionConfig struct {
	Max       int           `yaml:"max" json:"max"`
	Reuse     bool          `yaml:"reuse" json:"reuse"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// SourceConfig registers one marketplace extraction endpoint
type SourceConfig struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// FipeConfig controls the monthly valuation job
type FipeConfig struct {
	SourceEndpoint string        `yaml:"source_endpoint" json:"source_endpoint"`
	SourceTimeout  time.Duration `yaml:"source_timeout" json:"source_timeout"`
	Delay          time.Duration `yaml:"delay" json:"delay"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	Backoff        string        `yaml:"backoff" json:"backoff"`
	BackoffDelay   time.Duration `yaml:"backoff_delay" json:"backoff_delay"`
	Timezone       string        `yaml:"timezone" json:"timezone"`
	Catalog        string        `yaml:"catalog" json:"catalog"`
	Store          string        `yaml:"store" json:"store"`
	Resume         bool          `yaml:"resume" json:"resume"`
	CheckpointDir  string        `yaml:"checkpoint_dir" json:"checkpoint_dir"`
}

// ScheduleConfig holds trigger timing
type ScheduleConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	ScrapeInterval time.Duration `yaml:"scrape_interval" json:"scrape_interval"`
	ScrapeOnStart  bool          `yaml:"scrape_on_start" json:"scrape_on_start"`
	ValuationDay   int           `yaml:"valuation_day" json:"valuation_day"`
	ValuationTime  string        `yaml:"valuation_time" json:"valuation_time"`
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// StatusConfig holds status server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// Backend names for the valuation catalog and store
const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
			Models:  []string{"Palio"},
		},
		PriceStore: PriceStoreConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Scrape: ScrapeConfig{
			Workers:       4,
			QueueSize:     64,
			UnitTimeout:   2 * time.Minute,
			IngestTimeout: 20 * time.Second,
			VehicleType:   "carros",
			SourceTag:     "FIPE",
			BrandAliases:  map[string]string{},
		},
		Sessions: SessionConfig{
			Max:       4,
			Reuse:     false,
			Timeout:   60 * time.Second,
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Sources: []SourceConfig{
			{Name: "Olx", Endpoint: "http://localhost:9000/scrape/olx"},
			{Name: "Chaves Na Mão", Endpoint: "http://localhost:9000/scrape/chaves-na-mao"},
		},
		Fipe: FipeConfig{
			SourceEndpoint: "http://localhost:9000/fipe/latest",
			SourceTimeout:  30 * time.Second,
			Delay:          time.Second,
			MaxAttempts:    3,
			Backoff:        "constant",
			BackoffDelay:   2 * time.Second,
			Timezone:       "America/Sao_Paulo",
			Catalog:        BackendHTTP,
			Store:          BackendHTTP,
			Resume:         true,
		},
		Schedule: ScheduleConfig{
			Enabled:        true,
			ScrapeInterval: time.Hour,
			ScrapeOnStart:  true,
			ValuationDay:   2,
			ValuationTime:  "00:00",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("PRICESCRAPER_CATALOG_URL"); v != "" {
		c.Catalog.BaseURL = v
	}
	if v := os.Getenv("PRICESCRAPER_CATALOG_MODELS"); v != "" {
		c.Catalog.Models = splitList(v)
	}
	if v := os.Getenv("PRICESCRAPER_PRICE_STORE_URL"); v != "" {
		c.PriceStore.BaseURL = v
	}
	if v := os.Getenv("PRICESCRAPER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICESCRAPER_WORKERS: %w", err))
		} else if n > 0 {
			c.Scrape.Workers = n
		}
	}
	if v := os.Getenv("PRICESCRAPER_SESSIONS_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICESCRAPER_SESSIONS_MAX: %w", err))
		} else if n > 0 {
			c.Sessions.Max = n
		}
	}
	if v := os.Getenv("PRICESCRAPER_UNIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICESCRAPER_UNIT_TIMEOUT: %w", err))
		} else {
			c.Scrape.UnitTimeout = d
		}
	}
	if v := os.Getenv("PRICESCRAPER_FIPE_ENDPOINT"); v != "" {
		c.Fipe.SourceEndpoint = v
	}
	if v := os.Getenv("PRICESCRAPER_FIPE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICESCRAPER_FIPE_DELAY: %w", err))
		} else {
			c.Fipe.Delay = d
		}
	}
	if v := os.Getenv("PRICESCRAPER_TIMEZONE"); v != "" {
		c.Fipe.Timezone = v
	}
	if v := os.Getenv("PRICESCRAPER_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("PRICESCRAPER_STATUS_ADDR"); v != "" {
		c.Status.Addr = v
	}
	if v := os.Getenv("PRICESCRAPER_SCHEDULE_ENABLED"); v != "" {
		c.Schedule.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("PRICESCRAPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PRICESCRAPER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
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

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".pricescraper.yaml",
		".pricescraper.yml",
		filepath.Join(home, ".config", "pricescraper", "config.yaml"),
		filepath.Join(home, ".config", "pricescraper", "config.yml"),
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

	if err := validateURL("catalog base URL", c.Catalog.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("price store base URL", c.PriceStore.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Catalog.Timeout <= 0 || c.PriceStore.Timeout <= 0 {
		errs = append(errs, errors.New("HTTP client timeouts must be positive"))
	}
	if c.Catalog.RequestsPerMinute < 0 || c.PriceStore.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Scrape.Workers <= 0 {
		errs = append(errs, errors.New("scrape workers must be positive"))
	}
	if c.Scrape.QueueSize <= 0 {
		errs = append(errs, errors.New("scrape queue size must be positive"))
	}
	if c.Scrape.UnitTimeout <= 0 {
		errs = append(errs, errors.New("scrape unit timeout must be positive"))
	}
	if c.Scrape.IngestTimeout <= 0 {
		errs = append(errs, errors.New("scrape ingest timeout must be positive"))
	}
	if c.Scrape.VehicleType != "" {
		if _, ok := models.ParseVehicleType(c.Scrape.VehicleType); !ok {
			errs = append(errs, fmt.Errorf("unknown vehicle type %q", c.Scrape.VehicleType))
		}
	}

	if c.Sessions.Max <= 0 {
		errs = append(errs, errors.New("session pool size must be positive"))
	}

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source must be configured"))
	}
	seen := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("source %d has no name", i))
			continue
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("source %q is registered twice", src.Name))
		}
		seen[src.Name] = true
		if err := validateURL("source "+src.Name+" endpoint", src.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}

	if err := validateURL("FIPE source endpoint", c.Fipe.SourceEndpoint); err != nil {
		errs = append(errs, err)
	}
	if c.Fipe.MaxAttempts <= 0 {
		errs = append(errs, errors.New("FIPE max attempts must be positive"))
	}
	if c.Fipe.Delay < 0 || c.Fipe.BackoffDelay < 0 {
		errs = append(errs, errors.New("FIPE delays cannot be negative"))
	}
	switch strings.ToLower(c.Fipe.Backoff) {
	case "constant", "linear", "exponential":
	default:
		errs = append(errs, fmt.Errorf("unknown FIPE backoff %q", c.Fipe.Backoff))
	}
	if _, err := time.LoadLocation(c.Fipe.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Fipe.Timezone, err))
	}
	for name, backend := range map[string]string{"catalog": c.Fipe.Catalog, "store": c.Fipe.Store} {
		switch backend {
		case BackendHTTP:
		case BackendPostgres:
			if c.Database.DSN == "" {
				errs = append(errs, fmt.Errorf("FIPE %s uses postgres but no database DSN is set", name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown FIPE %s backend %q", name, backend))
		}
	}

	if c.Schedule.ScrapeInterval <= 0 {
		errs = append(errs, errors.New("scrape interval must be positive"))
	}
	if c.Schedule.ValuationDay < 1 || c.Schedule.ValuationDay > 28 {
		errs = append(errs, errors.New("valuation day must be between 1 and 28"))
	}
	if _, _, err := c.Schedule.ValuationClock(); err != nil {
		errs = append(errs, err)
	}

	if c.Status.Enabled && c.Status.Addr == "" {
		errs = append(errs, errors.New("status address is required when the status server is enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ValuationClock parses ValuationTime as HH:MM
func (s ScheduleConfig) ValuationClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.ValuationTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid valuation time %q: want HH:MM", s.ValuationTime)
	}
	return t.Hour(), t.Minute(), nil
}

// Location resolves the configured FIPE timezone, falling back to UTC
func (f FipeConfig) Location() *time.Location {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
	if level, ok := flags["log-level"].(string); ok && level != "" {
		c.Logging.Level = level
	}
	if format, ok := flags["log-format"].(string); ok && format != "" {
		c.Logging.Format = format
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Scrape.Workers = workers
	}
	if list, ok := flags["models"].([]string); ok && len(list) > 0 {
		c.Catalog.Models = list
	}
	if addr, ok := flags["status-addr"].(string); ok && addr != "" {
		c.Status.Addr = addr
	}
	if dsn, ok := flags["database-dsn"].(string); ok && dsn != "" {
		c.Database.DSN = dsn
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".pricescraper.env"))

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

func validateURL(what, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", what)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", what, raw)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
