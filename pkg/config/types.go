package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the shape-httpd configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	TLS       TLSConfig       `yaml:"tls"`
	Admission AdmissionConfig `yaml:"admission"`
	Content   ContentConfig   `yaml:"content"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds listener and connection settings.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Cache          bool     `yaml:"cache"`
	MaxConnections int      `yaml:"max_connections"`
	MaxResources   int      `yaml:"max_resources"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	ShutdownGrace  Duration `yaml:"shutdown_grace"`
	DebugHeads     bool     `yaml:"debug_heads"`
}

// LimitsConfig bounds per-request memory.
type LimitsConfig struct {
	MaxHeaderBytes SizeBytes `yaml:"max_header_bytes"`
	BodySpanSize   SizeBytes `yaml:"body_span_size"`
	MaxDrainBytes  SizeBytes `yaml:"max_drain_bytes"`
}

// TLSConfig selects the certificate material. With SelfSigned set a
// throwaway certificate is generated at startup.
type TLSConfig struct {
	CertFile         string   `yaml:"cert_file"`
	KeyFile          string   `yaml:"key_file"`
	RootCAFile       string   `yaml:"root_ca_file"`
	SelfSigned       bool     `yaml:"self_signed"`
	Hosts            []string `yaml:"hosts"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.SelfSigned || t.CertFile != "" || t.KeyFile != ""
}

// AdmissionConfig configures per-client rate limiting.
type AdmissionConfig struct {
	Enabled  bool    `yaml:"enabled"`
	RPS      float64 `yaml:"rps"`
	Burst    int     `yaml:"burst"`
	MaxPeers int     `yaml:"max_peers"`
}

// ContentConfig describes the content served at startup.
type ContentConfig struct {
	// StaticDir is preloaded into Static resources, one per file.
	StaticDir string `yaml:"static_dir"`
	// StorePath is the Pebble database backing Resource URLs. Empty
	// means an in-memory store.
	StorePath string `yaml:"store_path"`
	// Mount is the URL pattern under which stored content is served.
	Mount string `yaml:"mount"`
	// RootRedirect, when set, redirects "/" to this path.
	RootRedirect string `yaml:"root_redirect"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus listener.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// SizeBytes is a byte count read from strings like "8KiB" or plain
// integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSize parses a human-friendly size.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration reads strings like "100ms" or plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDuration parses a Go duration or a number of seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
