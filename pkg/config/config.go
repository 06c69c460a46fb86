// Package config loads shape-httpd settings. Values are layered: built-in
// defaults, then the YAML file, then SHAPE_HTTPD_* environment variables
// (optionally from a .env file), then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shapestone/shape-httpd/pkg/admission"
	"github.com/shapestone/shape-httpd/pkg/httpd"
	"github.com/shapestone/shape-httpd/pkg/security"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHAPE_HTTPD_"

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			MaxConnections: httpd.DefaultMaxConnections,
			IdleTimeout:    Duration(httpd.DefaultIdleTimeout),
			WriteTimeout:   Duration(httpd.DefaultWriteTimeout),
			ShutdownGrace:  Duration(10 * time.Second),
		},
		Limits: LimitsConfig{
			MaxHeaderBytes: httpd.DefaultMaxHeaderBytes,
			BodySpanSize:   httpd.DefaultBodySpanSize,
			MaxDrainBytes:  httpd.DefaultMaxDrainBytes,
		},
		TLS: TLSConfig{
			HandshakeTimeout: Duration(security.DefaultHandshakeTimeout),
		},
		Admission: AdmissionConfig{
			RPS:      admission.DefaultRPS,
			Burst:    admission.DefaultBurst,
			MaxPeers: admission.DefaultMaxPeers,
		},
		Content: ContentConfig{
			Mount: "/content/*",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Variables already set win. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from SHAPE_HTTPD_* variables read through lookup,
// which is os.LookupEnv outside tests. It reports whether any variable was
// used.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) (bool, error) {
	used := false
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if ok {
			used = true
		}
		return v, ok
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	size := func(name string, dst *SizeBytes) {
		if v, ok := get(name); ok {
			s, err := ParseSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = s
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := get(name); ok {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("ADDRESS", &c.Server.Address)
	boolean("CACHE", &c.Server.Cache)
	integer("MAX_CONNECTIONS", &c.Server.MaxConnections)
	integer("MAX_RESOURCES", &c.Server.MaxResources)
	duration("IDLE_TIMEOUT", &c.Server.IdleTimeout)
	duration("WRITE_TIMEOUT", &c.Server.WriteTimeout)
	boolean("DEBUG_HEADS", &c.Server.DebugHeads)
	size("MAX_HEADER_BYTES", &c.Limits.MaxHeaderBytes)
	size("BODY_SPAN_SIZE", &c.Limits.BodySpanSize)
	size("MAX_DRAIN_BYTES", &c.Limits.MaxDrainBytes)
	str("TLS_CERT", &c.TLS.CertFile)
	str("TLS_KEY", &c.TLS.KeyFile)
	str("TLS_ROOT_CA", &c.TLS.RootCAFile)
	boolean("TLS_SELF_SIGNED", &c.TLS.SelfSigned)
	boolean("RATE_LIMIT", &c.Admission.Enabled)
	if v, ok := get("RATE_RPS"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_RPS: %w", EnvPrefix, err))
		} else {
			c.Admission.RPS = f
		}
	}
	integer("RATE_BURST", &c.Admission.Burst)
	str("STATIC_DIR", &c.Content.StaticDir)
	str("STORE_PATH", &c.Content.StorePath)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("METRICS_ADDRESS", &c.Metrics.Address)

	return used, errors.Join(errs...)
}

// Flags are the command-line overrides of the serve command.
type Flags struct {
	Config   string
	EnvFile  string
	Addr     string
	LogLevel string
	// Set records which flags were given explicitly.
	Set map[string]bool
}

// ParseFlags parses the serve command's flags from args.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	fs.StringVar(&f.Config, "config", "./shape-httpd.yaml", "Path to config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Path to .env file")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (overrides config)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	f.Set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.Set[fl.Name] = true })
	return f, nil
}

// ApplyFlags overrides cfg with the explicitly set flags.
func (c *Config) ApplyFlags(f Flags) {
	if f.Set["addr"] {
		c.Server.Address = f.Addr
	}
	if f.Set["log-level"] {
		c.Logging.Level = f.LogLevel
	}
}

// Validate fills zero values with defaults and rejects inconsistent
// settings.
func (c *Config) Validate() error {
	d := Default()
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = d.Server.MaxConnections
	}
	if c.Server.MaxResources < 0 {
		return fmt.Errorf("config: server.max_resources must not be negative")
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.ShutdownGrace <= 0 {
		c.Server.ShutdownGrace = d.Server.ShutdownGrace
	}
	if c.Limits.MaxHeaderBytes <= 0 {
		c.Limits.MaxHeaderBytes = d.Limits.MaxHeaderBytes
	}
	if c.Limits.MaxHeaderBytes < 64 {
		return fmt.Errorf("config: limits.max_header_bytes %d is too small", c.Limits.MaxHeaderBytes)
	}
	if c.Limits.BodySpanSize <= 0 {
		c.Limits.BodySpanSize = d.Limits.BodySpanSize
	}
	if c.Limits.MaxDrainBytes <= 0 {
		c.Limits.MaxDrainBytes = d.Limits.MaxDrainBytes
	}
	if c.TLS.HandshakeTimeout <= 0 {
		c.TLS.HandshakeTimeout = d.TLS.HandshakeTimeout
	}
	if !c.TLS.SelfSigned && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("config: tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.RootCAFile != "" && !c.TLS.Enabled() {
		return fmt.Errorf("config: tls.root_ca_file requires a server certificate")
	}
	if c.Content.Mount == "" {
		c.Content.Mount = d.Content.Mount
	}
	if !strings.HasPrefix(c.Content.Mount, "/") {
		return fmt.Errorf("config: content.mount %q must start with /", c.Content.Mount)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = d.Logging.Format
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

// ServerOptions maps the configuration onto httpd.Options. Logger,
// metrics, security, and admission are wired by the caller.
func (c *Config) ServerOptions() httpd.Options {
	cache := httpd.CacheDisabled
	if c.Server.Cache {
		cache = httpd.CacheEnabled
	}
	return httpd.Options{
		Addr:           c.Server.Address,
		Cache:          cache,
		MaxResources:   c.Server.MaxResources,
		MaxConnections: c.Server.MaxConnections,
		MaxHeaderBytes: int(c.Limits.MaxHeaderBytes),
		BodySpanSize:   int(c.Limits.BodySpanSize),
		MaxDrainBytes:  c.Limits.MaxDrainBytes.Int64(),
		IdleTimeout:    c.Server.IdleTimeout.Duration(),
		WriteTimeout:   c.Server.WriteTimeout.Duration(),
		DebugHeads:     c.Server.DebugHeads,
	}
}

// AdmissionController builds the admission controller, or nil when rate limiting is
// disabled.
func (c *Config) AdmissionController() admission.Controller {
	if !c.Admission.Enabled {
		return nil
	}
	return admission.NewRateLimiter(c.Admission.RPS, c.Admission.Burst, c.Admission.MaxPeers)
}

// LoadSecurityInfo reads the configured PEM files, or generates a
// self-signed certificate. The caller zeroes the result once the security
// context is configured.
func (t TLSConfig) LoadSecurityInfo() (*security.Info, error) {
	if t.SelfSigned {
		hosts := t.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1"}
		}
		return security.GenerateSelfSigned(hosts, 365*24*time.Hour)
	}
	info := &security.Info{}
	var err error
	if info.Certificate, err = os.ReadFile(t.CertFile); err != nil {
		return nil, fmt.Errorf("config: read tls.cert_file: %w", err)
	}
	if info.PrivateKey, err = os.ReadFile(t.KeyFile); err != nil {
		info.Zero()
		return nil, fmt.Errorf("config: read tls.key_file: %w", err)
	}
	if t.RootCAFile != "" {
		if info.RootCACertificate, err = os.ReadFile(t.RootCAFile); err != nil {
			info.Zero()
			return nil, fmt.Errorf("config: read tls.root_ca_file: %w", err)
		}
	}
	return info, nil
}
