// Package config defines the sink's configuration model and loads it from a
// YAML or JSON file plus TABLESINK_* environment overrides.
//
// Example (YAML):
//
//	name: orders-sink
//	store:
//	  driver: mysql
//	  dsn: tcp(db:3306)/sink?parseTime=true
//	  user: sink
//	  password: secret
//	schema:
//	  source: https://config.internal/sink/tables.yaml
//	record:
//	  delimiter: ","
//	runtime:
//	  batch_size: 100
//
// Every key can be overridden from the environment by upper-casing it and
// replacing dots with underscores: TABLESINK_STORE_PASSWORD,
// TABLESINK_RUNTIME_BATCH_SIZE.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tablesink/internal/datasource/httpds"
	"tablesink/internal/storage"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TABLESINK"

// Config is the full sink configuration.
type Config struct {
	// Name identifies the sink in logs and metrics (job label).
	Name string `mapstructure:"name"`

	Store    StoreConfig    `mapstructure:"store"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Record   RecordConfig   `mapstructure:"record"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig selects and connects the relational store.
type StoreConfig struct {
	// Driver is one of postgres, mysql, mssql, sqlite.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// CreateTables creates missing destination tables on schema load.
	CreateTables bool `mapstructure:"create_tables"`
}

// SchemaConfig locates the table definitions and controls reloads.
type SchemaConfig struct {
	// Source is a filesystem path or an http(s) URL.
	Source string `mapstructure:"source"`
	// ReloadOffset is added past the top of each hour.
	ReloadOffset time.Duration `mapstructure:"reload_offset"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// HTTPConfig tunes schema fetches over HTTP.
type HTTPConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// RecordConfig describes the upstream wire format.
type RecordConfig struct {
	Prefix    string `mapstructure:"prefix"`
	Delimiter string `mapstructure:"delimiter"`
	// Charset of incoming records; empty means UTF-8.
	Charset string `mapstructure:"charset"`
}

// RuntimeConfig controls cycle sizing and pacing.
type RuntimeConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// TakeTimeout bounds how long one cycle waits for records, measured
	// from the start of the pull phase.
	TakeTimeout      time.Duration `mapstructure:"take_timeout"`
	BackoffIncrement time.Duration `mapstructure:"backoff_increment"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

// UpstreamConfig configures the in-process record queue.
type UpstreamConfig struct {
	Capacity int `mapstructure:"capacity"`
	// Source optionally feeds the queue from a path, URL or "-" for stdin.
	Source string `mapstructure:"source"`
}

// AdminConfig configures the admin HTTP server; empty Addr disables it.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	// Backend is one of none, pushgateway, datadog.
	Backend        string `mapstructure:"backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	DatadogAddr    string `mapstructure:"datadog_addr"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig converts the store section to the storage factory's input.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Kind:     c.Store.Driver,
		DSN:      c.Store.DSN,
		User:     c.Store.User,
		Password: c.Store.Password,
	}
}

// HTTPClientConfig converts the schema.http section for httpds.
func (c *Config) HTTPClientConfig() httpds.Config {
	return httpds.Config{
		Timeout:            c.Schema.HTTP.Timeout,
		MaxRetries:         c.Schema.HTTP.MaxRetries,
		InsecureSkipVerify: c.Schema.HTTP.InsecureSkipVerify,
	}
}

// FeedHTTPClientConfig is HTTPClientConfig for upstream.source: the body is
// streamed for as long as the feed runs, so schema.http.timeout only bounds
// the response headers.
func (c *Config) FeedHTTPClientConfig() httpds.Config {
	hc := c.HTTPClientConfig()
	hc.Streaming = true
	return hc
}

var defaults = map[string]any{
	"name":                             "tablesink",
	"store.driver":                     "",
	"store.dsn":                        "",
	"store.user":                       "",
	"store.password":                   "",
	"store.create_tables":              false,
	"schema.source":                    "",
	"schema.reload_offset":             "1s",
	"schema.http.timeout":              "30s",
	"schema.http.max_retries":          3,
	"schema.http.insecure_skip_verify": false,
	"record.prefix":                    "fl-table:",
	"record.delimiter":                 ",",
	"record.charset":                   "",
	"runtime.batch_size":               100,
	"runtime.take_timeout":             "3s",
	"runtime.backoff_increment":        "1s",
	"runtime.max_backoff":              "5s",
	"upstream.capacity":                10000,
	"upstream.source":                  "",
	"admin.addr":                       "",
	"metrics.backend":                  "none",
	"metrics.pushgateway_url":          "",
	"metrics.datadog_addr":             "",
	"log.level":                        "info",
	"log.format":                       "text",
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path (optional; empty means environment and defaults only) and
// applies environment overrides. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
