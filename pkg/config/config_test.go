package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shapestone/shape-httpd/pkg/httpd"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "shape-httpd.yaml", `
server:
  address: "127.0.0.1:9000"
  cache: true
  max_connections: 32
  idle_timeout: 5s
  write_timeout: 2.5
limits:
  max_header_bytes: 16KiB
  body_span_size: 512
admission:
  enabled: true
  rps: 20
content:
  static_dir: ./www
  root_redirect: /index.html
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9000" || !cfg.Server.Cache || cfg.Server.MaxConnections != 32 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if got := cfg.Server.IdleTimeout.Duration(); got != 5*time.Second {
		t.Errorf("idle_timeout = %v", got)
	}
	if got := cfg.Server.WriteTimeout.Duration(); got != 2500*time.Millisecond {
		t.Errorf("write_timeout = %v", got)
	}
	if cfg.Limits.MaxHeaderBytes != 16*1024 || cfg.Limits.BodySpanSize != 512 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	// Unset fields keep their defaults.
	if cfg.Limits.MaxDrainBytes != httpd.DefaultMaxDrainBytes {
		t.Errorf("max_drain_bytes = %d", cfg.Limits.MaxDrainBytes)
	}
	if cfg.Admission.Burst != Default().Admission.Burst {
		t.Errorf("burst = %d", cfg.Admission.Burst)
	}
	if cfg.Content.Mount != "/content/*" {
		t.Errorf("mount = %q", cfg.Content.Mount)
	}
}

func TestLoad_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := Load(missing, true)
	if err != nil {
		t.Fatalf("optional Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("missing optional file should yield defaults (-want +got):\n%s", diff)
	}
	if _, err := Load(missing, false); err == nil {
		t.Error("required Load of missing file succeeded")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad size", "limits:\n  max_header_bytes: lots\n"},
		{"bad duration", "server:\n  idle_timeout: soon\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "c.yaml", tt.yaml)
			if _, err := Load(path, false); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want SizeBytes
		err  bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"8KiB", 8192, false},
		{"1 MB", 1000000, false},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseSize(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"", 0, false},
		{"150ms", 150 * time.Millisecond, false},
		{"2", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if got.Duration() != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got.Duration(), tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SHAPE_HTTPD_ADDRESS":          ":7070",
		"SHAPE_HTTPD_CACHE":            "true",
		"SHAPE_HTTPD_MAX_CONNECTIONS":  "3",
		"SHAPE_HTTPD_MAX_HEADER_BYTES": "4KiB",
		"SHAPE_HTTPD_IDLE_TIMEOUT":     "1m",
		"SHAPE_HTTPD_RATE_LIMIT":       "1",
		"SHAPE_HTTPD_RATE_RPS":         "2.5",
		"SHAPE_HTTPD_LOG_LEVEL":        "warn",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	used, err := cfg.ApplyEnv(lookup)
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if !used {
		t.Error("used = false")
	}

	want := Default()
	want.Server.Address = ":7070"
	want.Server.Cache = true
	want.Server.MaxConnections = 3
	want.Limits.MaxHeaderBytes = 4096
	want.Server.IdleTimeout = Duration(time.Minute)
	want.Admission.Enabled = true
	want.Admission.RPS = 2.5
	want.Logging.Level = "warn"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ApplyEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	env := map[string]string{
		"SHAPE_HTTPD_MAX_CONNECTIONS": "many",
		"SHAPE_HTTPD_CACHE":           "sometimes",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	_, err := Default().ApplyEnv(lookup)
	if err == nil {
		t.Fatal("ApplyEnv succeeded")
	}
	for _, name := range []string{"MAX_CONNECTIONS", "CACHE"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestApplyEnv_None(t *testing.T) {
	used, err := Default().ApplyEnv(func(string) (string, bool) { return "", false })
	if err != nil || used {
		t.Errorf("ApplyEnv = %v, %v", used, err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	const key = "SHAPE_HTTPD_TEST_ENV_FILE"
	path := writeFile(t, ".env", key+"=from-file\n")
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q", key, got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file: %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f, err := ParseFlags(fs, []string{"-addr", ":1234", "-config", "x.yaml"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !f.Set["addr"] || !f.Set["config"] || f.Set["log-level"] {
		t.Errorf("Set = %v", f.Set)
	}

	cfg := Default()
	cfg.Logging.Level = "error"
	cfg.ApplyFlags(f)
	if cfg.Server.Address != ":1234" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	// An unset flag must not clobber the config value.
	if cfg.Logging.Level != "error" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zeroes refilled", func(c *Config) { *c = Config{} }, true},
		{"negative resources", func(c *Config) { c.Server.MaxResources = -1 }, false},
		{"tiny header limit", func(c *Config) { c.Limits.MaxHeaderBytes = 10 }, false},
		{"cert without key", func(c *Config) { c.TLS.CertFile = "cert.pem" }, false},
		{"self signed", func(c *Config) { c.TLS.SelfSigned = true }, true},
		{"root ca alone", func(c *Config) { c.TLS.RootCAFile = "ca.pem" }, false},
		{"relative mount", func(c *Config) { c.Content.Mount = "content/*" }, false},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestServerOptions(t *testing.T) {
	cfg := Default()
	cfg.Server.Cache = true
	cfg.Server.MaxResources = 50
	opts := cfg.ServerOptions()

	if opts.Cache != httpd.CacheEnabled {
		t.Error("cache not enabled")
	}
	if opts.MaxResources != 50 || opts.MaxConnections != httpd.DefaultMaxConnections {
		t.Errorf("opts = %+v", opts)
	}
	if opts.MaxHeaderBytes != httpd.DefaultMaxHeaderBytes || opts.IdleTimeout != httpd.DefaultIdleTimeout {
		t.Errorf("opts = %+v", opts)
	}
}

func TestAdmissionController(t *testing.T) {
	cfg := Default()
	if cfg.AdmissionController() != nil {
		t.Error("disabled admission returned a controller")
	}
	cfg.Admission.Enabled = true
	if cfg.AdmissionController() == nil {
		t.Error("enabled admission returned nil")
	}
}

func TestLoadSecurityInfo(t *testing.T) {
	info, err := TLSConfig{SelfSigned: true}.LoadSecurityInfo()
	if err != nil {
		t.Fatalf("self-signed: %v", err)
	}
	if len(info.Certificate) == 0 || len(info.PrivateKey) == 0 {
		t.Fatal("self-signed info is empty")
	}

	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(cert, info.Certificate, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(key, info.PrivateKey, 0o600); err != nil {
		t.Fatal(err)
	}
	info.Zero()

	loaded, err := TLSConfig{CertFile: cert, KeyFile: key}.LoadSecurityInfo()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(loaded.Certificate) == 0 || len(loaded.PrivateKey) == 0 {
		t.Error("loaded info is empty")
	}

	if _, err := (TLSConfig{CertFile: cert, KeyFile: filepath.Join(dir, "missing")}).LoadSecurityInfo(); err == nil {
		t.Error("missing key succeeded")
	}
}
