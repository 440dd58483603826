package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// These tests use t.Setenv, which forbids t.Parallel.

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

/*
TestLoad_Defaults verifies that with no file and no environment every key
falls back to its default.
*/
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "tablesink" {
		t.Errorf("Name=%q", cfg.Name)
	}
	if cfg.Record.Prefix != "fl-table:" || cfg.Record.Delimiter != "," {
		t.Errorf("Record=%+v", cfg.Record)
	}
	if cfg.Runtime.BatchSize != 100 {
		t.Errorf("BatchSize=%d", cfg.Runtime.BatchSize)
	}
	if cfg.Runtime.TakeTimeout != 3*time.Second || cfg.Runtime.MaxBackoff != 5*time.Second {
		t.Errorf("Runtime=%+v", cfg.Runtime)
	}
	if cfg.Schema.ReloadOffset != time.Second {
		t.Errorf("ReloadOffset=%s", cfg.Schema.ReloadOffset)
	}
	if cfg.Metrics.Backend != "none" {
		t.Errorf("Metrics.Backend=%q", cfg.Metrics.Backend)
	}
}

/*
TestLoad_YAMLFile reads a YAML file and checks nested sections and
duration parsing.
*/
func TestLoad_YAMLFile(t *testing.T) {
	p := writeFile(t, "sink.yaml", `
name: orders-sink
store:
  driver: postgres
  dsn: postgres://db:5432/sink
  user: sink
  password: secret
schema:
  source: /etc/tables.yaml
  reload_offset: 30s
  http:
    max_retries: 5
record:
  delimiter: ";"
  charset: windows-1250
runtime:
  batch_size: 250
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "orders-sink" || cfg.Store.Driver != "postgres" || cfg.Store.Password != "secret" {
		t.Errorf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Schema.ReloadOffset != 30*time.Second {
		t.Errorf("ReloadOffset=%s", cfg.Schema.ReloadOffset)
	}
	if cfg.Schema.HTTP.MaxRetries != 5 || cfg.Schema.HTTP.Timeout != 30*time.Second {
		t.Errorf("HTTP=%+v", cfg.Schema.HTTP)
	}
	if cfg.Record.Delimiter != ";" || cfg.Record.Charset != "windows-1250" || cfg.Record.Prefix != "fl-table:" {
		t.Errorf("Record=%+v", cfg.Record)
	}
	if cfg.Runtime.BatchSize != 250 {
		t.Errorf("BatchSize=%d", cfg.Runtime.BatchSize)
	}

	sc := cfg.StorageConfig()
	if sc.Kind != "postgres" || sc.User != "sink" {
		t.Errorf("StorageConfig=%+v", sc)
	}
	if hc := cfg.HTTPClientConfig(); hc.MaxRetries != 5 || hc.Streaming {
		t.Errorf("HTTPClientConfig=%+v", hc)
	}
	if hc := cfg.FeedHTTPClientConfig(); !hc.Streaming || hc.Timeout != 30*time.Second || hc.MaxRetries != 5 {
		t.Errorf("FeedHTTPClientConfig=%+v", hc)
	}
}

/*
TestLoad_EnvOverridesFile verifies TABLESINK_* variables win over the file.
*/
func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "sink.json", `{"store":{"driver":"mysql","password":"from-file"},"runtime":{"batch_size":10}}`)
	t.Setenv("TABLESINK_STORE_PASSWORD", "from-env")
	t.Setenv("TABLESINK_RUNTIME_BATCH_SIZE", "42")
	t.Setenv("TABLESINK_RUNTIME_MAX_BACKOFF", "9s")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Password != "from-env" {
		t.Errorf("Password=%q", cfg.Store.Password)
	}
	if cfg.Store.Driver != "mysql" {
		t.Errorf("Driver=%q", cfg.Store.Driver)
	}
	if cfg.Runtime.BatchSize != 42 {
		t.Errorf("BatchSize=%d", cfg.Runtime.BatchSize)
	}
	if cfg.Runtime.MaxBackoff != 9*time.Second {
		t.Errorf("MaxBackoff=%s", cfg.Runtime.MaxBackoff)
	}
}

/*
TestLoad_MissingFile surfaces an error when an explicit path does not exist.
*/
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

/*
TestLoadDotEnv_DoesNotOverride loads a .env file, keeps already-set
variables, and ignores missing files.
*/
func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	p := writeFile(t, ".env", "TABLESINK_STORE_USER=dotenv\nTABLESINK_STORE_PASSWORD=dotenv\n")
	t.Setenv("TABLESINK_STORE_USER", "preset")
	t.Setenv("TABLESINK_STORE_PASSWORD", "")
	os.Unsetenv("TABLESINK_STORE_PASSWORD")

	missing := filepath.Join(t.TempDir(), "absent.env")
	if err := LoadDotEnv(missing, p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TABLESINK_STORE_USER"); got != "preset" {
		t.Errorf("TABLESINK_STORE_USER=%q; existing value must win", got)
	}
	if got := os.Getenv("TABLESINK_STORE_PASSWORD"); got != "dotenv" {
		t.Errorf("TABLESINK_STORE_PASSWORD=%q", got)
	}
	os.Unsetenv("TABLESINK_STORE_PASSWORD")
}
