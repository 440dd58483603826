package config

import (
	"fmt"
	"net/url"
	"strings"

	"tablesink/internal/record"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks startup.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a problem worth surfacing that does not block
	// startup.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "store.dsn",
// "runtime.batch_size"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ConfigError carries the error-level issues that stopped startup.
type ConfigError struct {
	Issues []Issue
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		msgs[i] = iss.Path + ": " + iss.Message
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Check returns a *ConfigError when issues contains any error-level issue.
func Check(issues []Issue) error {
	var errs []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &ConfigError{Issues: errs}
}

var knownDrivers = map[string]struct{}{
	"postgres": {},
	"mysql":    {},
	"mssql":    {},
	"sqlite":   {},
}

// Validate performs static validation of cfg. It does not mutate cfg and
// does not touch the network.
func Validate(cfg *Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(cfg.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "name",
			Message:  "name must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateStore(cfg.Store)...)
	issues = append(issues, validateSchema(cfg.Schema)...)
	issues = append(issues, validateRecord(cfg.Record)...)
	issues = append(issues, validateRuntime(cfg.Runtime)...)
	issues = append(issues, validateUpstream(cfg.Upstream)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	issues = append(issues, validateLog(cfg.Log)...)

	return issues
}

func validateStore(s StoreConfig) []Issue {
	var issues []Issue

	driver := strings.TrimSpace(s.Driver)
	if driver == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.driver",
			Message:  "store.driver must not be empty",
		})
	} else if _, ok := knownDrivers[driver]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.driver",
			Message:  fmt.Sprintf("unknown store driver %q; want postgres, mysql, mssql or sqlite", driver),
		})
	}

	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.dsn",
			Message:  "store.dsn must not be empty",
		})
	}

	// SQLite has no accounts.
	if driver != "sqlite" && driver != "" {
		if strings.TrimSpace(s.User) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.user",
				Message:  fmt.Sprintf("store.user is required for %s", driver),
			})
		}
		if s.Password == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.password",
				Message:  fmt.Sprintf("store.password is required for %s", driver),
			})
		}
	}

	return issues
}

func validateSchema(s SchemaConfig) []Issue {
	var issues []Issue

	src := strings.TrimSpace(s.Source)
	if src == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.source",
			Message:  "schema.source must not be empty; set a file path or http(s) URL",
		})
	} else if strings.Contains(src, "://") {
		u, err := url.Parse(src)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "schema.source",
				Message:  fmt.Sprintf("schema.source %q is not a valid http(s) URL", src),
			})
		}
	}

	if s.ReloadOffset < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.reload_offset",
			Message:  "reload_offset must not be negative",
		})
	}
	if s.HTTP.Timeout <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.http.timeout",
			Message:  "timeout must be positive",
		})
	}
	if s.HTTP.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.http.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	if s.HTTP.InsecureSkipVerify {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "schema.http.insecure_skip_verify",
			Message:  "TLS certificate verification is disabled for schema fetches",
		})
	}

	return issues
}

func validateRecord(r RecordConfig) []Issue {
	var issues []Issue

	if r.Delimiter == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "record.delimiter",
			Message:  "record.delimiter must not be empty",
		})
	}
	if r.Prefix == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "record.prefix",
			Message:  "record.prefix must not be empty",
		})
	}
	if r.Delimiter != "" && strings.Contains(r.Prefix, r.Delimiter) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "record.prefix",
			Message:  fmt.Sprintf("prefix %q contains the delimiter %q", r.Prefix, r.Delimiter),
		})
	}
	if _, err := record.LookupCharset(r.Charset); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "record.charset",
			Message:  err.Error(),
		})
	}

	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; must be a positive integer", r.BatchSize),
		})
	}
	if r.TakeTimeout <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.take_timeout",
			Message:  "take_timeout must be positive so an empty upstream yields backoff",
		})
	}
	if r.BackoffIncrement <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.backoff_increment",
			Message:  "backoff_increment must be positive",
		})
	}
	if r.MaxBackoff < r.BackoffIncrement {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.max_backoff",
			Message:  "max_backoff is smaller than backoff_increment; the increment is used as the cap",
		})
	}

	return issues
}

func validateUpstream(u UpstreamConfig) []Issue {
	var issues []Issue

	if u.Capacity <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "upstream.capacity",
			Message:  "capacity must be positive",
		})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, pushgateway or datadog", m.Backend),
		})
	}
	return issues
}

func validateLog(l LogConfig) []Issue {
	var issues []Issue

	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q; using info", l.Level),
		})
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; using text", l.Format),
		})
	}
	return issues
}
