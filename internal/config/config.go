// Package config loads curio's configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bryan-buckman/curio/internal/database"
	"github.com/bryan-buckman/curio/internal/feedsync"
	"github.com/bryan-buckman/curio/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. CURIO_DATABASE_DSN.
const EnvPrefix = "CURIO"

// Config holds all application configuration.
type Config struct {
	Server        Server    `mapstructure:"server"`
	Database      Database  `mapstructure:"database"`
	Log           Log       `mapstructure:"log"`
	Query         Query     `mapstructure:"query"`
	Summaries     Summaries `mapstructure:"summaries"`
	Facets        Facets    `mapstructure:"facets"`
	Feeds         Feeds     `mapstructure:"feeds"`
	DefaultSource string    `mapstructure:"default_source"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database selects and locates the backing store.
type Database struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// Log holds logger configuration.
type Log struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Query bounds search requests.
type Query struct {
	DefaultSize int    `mapstructure:"default_size"`
	MaxSize     int    `mapstructure:"max_size"`
	DefaultSort string `mapstructure:"default_sort"`
}

// Summaries tunes summary selection and revision writes.
type Summaries struct {
	PreferredVariants []string `mapstructure:"preferred_variants"`
	MaxRetries        int      `mapstructure:"max_retries"`
}

// Facets bounds facet output.
type Facets struct {
	MaxValues int `mapstructure:"max_values"`
}

// Feeds configures the channel feed poller.
type Feeds struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	PerHostInterval time.Duration `mapstructure:"per_host_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	variants := make([]string, 0, len(model.Variants))
	for _, v := range model.Variants {
		variants = append(variants, string(v))
	}
	return Config{
		Server: Server{
			Addr:            "0.0.0.0:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver: "sqlite",
			Path:   "curio.db",
		},
		Log: Log{
			Mode:  "dev",
			Level: "info",
		},
		Query: Query{
			DefaultSize: 24,
			MaxSize:     100,
			DefaultSort: string(model.SortNewest),
		},
		Summaries: Summaries{
			PreferredVariants: variants,
			MaxRetries:        5,
		},
		Facets: Facets{
			MaxValues: 200,
		},
		Feeds: Feeds{
			PollInterval:    0, // disabled unless configured
			PerHostInterval: feedsync.DelayBetweenHostRequests,
			Timeout:         30 * time.Second,
			UserAgent:       "curio/1.0",
		},
		DefaultSource: model.DefaultSource,
	}
}

// Load reads cfgFile (or the first curio.yaml found on the search path),
// applies CURIO_* environment overrides on top of Defaults, and validates the
// result. A missing config file is not an error.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("curio")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/curio")
		v.AddConfigPath(".")
	}

	// CURIO_DATABASE_DSN -> database.dsn
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("log.mode", d.Log.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("query.default_size", d.Query.DefaultSize)
	v.SetDefault("query.max_size", d.Query.MaxSize)
	v.SetDefault("query.default_sort", d.Query.DefaultSort)
	v.SetDefault("summaries.preferred_variants", d.Summaries.PreferredVariants)
	v.SetDefault("summaries.max_retries", d.Summaries.MaxRetries)
	v.SetDefault("facets.max_values", d.Facets.MaxValues)
	v.SetDefault("feeds.poll_interval", d.Feeds.PollInterval)
	v.SetDefault("feeds.concurrency", d.Feeds.Concurrency)
	v.SetDefault("feeds.per_host_interval", d.Feeds.PerHostInterval)
	v.SetDefault("feeds.timeout", d.Feeds.Timeout)
	v.SetDefault("feeds.user_agent", d.Feeds.UserAgent)
	v.SetDefault("default_source", d.DefaultSource)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Query.DefaultSize < 1 || c.Query.MaxSize < 1 {
		return errors.New("query.default_size and query.max_size must be positive")
	}
	if c.Query.DefaultSize > c.Query.MaxSize {
		return fmt.Errorf("query.default_size %d exceeds query.max_size %d", c.Query.DefaultSize, c.Query.MaxSize)
	}
	if _, err := model.ParseSort(c.Query.DefaultSort, model.SortNewest); err != nil {
		return fmt.Errorf("query.default_sort: %w", err)
	}
	if _, err := model.ParseVariants(c.Summaries.PreferredVariants); err != nil {
		return fmt.Errorf("summaries.preferred_variants: %w", err)
	}
	if c.Summaries.MaxRetries < 1 {
		return errors.New("summaries.max_retries must be at least 1")
	}
	if c.Facets.MaxValues < 1 {
		return errors.New("facets.max_values must be positive")
	}
	if c.Feeds.PollInterval < 0 || c.Feeds.Concurrency < 0 {
		return errors.New("feeds.poll_interval and feeds.concurrency must not be negative")
	}
	c.DefaultSource = strings.ToLower(strings.TrimSpace(c.DefaultSource))
	if !model.ValidSource(c.DefaultSource) {
		return fmt.Errorf("invalid default_source %q", c.DefaultSource)
	}
	return nil
}

// StoreOptions translates the query and summary settings for the store.
func (c Config) StoreOptions() database.Options {
	sort, _ := model.ParseSort(c.Query.DefaultSort, model.SortNewest)
	variants, _ := model.ParseVariants(c.Summaries.PreferredVariants)
	return database.Options{
		DefaultPageSize:   c.Query.DefaultSize,
		MaxPageSize:       c.Query.MaxSize,
		DefaultSort:       sort,
		PreferredVariants: variants,
		FacetMaxValues:    c.Facets.MaxValues,
		MaxRetries:        c.Summaries.MaxRetries,
		DefaultSource:     c.DefaultSource,
	}
}

// FetchOptions translates the feed settings for the fetcher.
func (c Config) FetchOptions() feedsync.Options {
	return feedsync.Options{
		Concurrency:     c.Feeds.Concurrency,
		PerHostInterval: c.Feeds.PerHostInterval,
		Timeout:         c.Feeds.Timeout,
		UserAgent:       c.Feeds.UserAgent,
	}
}

// IsPostgres reports whether the postgres driver is selected.
func (c Config) IsPostgres() bool {
	d := strings.ToLower(c.Database.Driver)
	return d == "postgres" || d == "postgresql"
}
