// Package security holds the TLS material for the server and performs
// handshakes on accepted connections.
//
// Key and certificate bytes are supplied once through Info. Configure parses
// them into the form the TLS stack needs and never keeps a reference to the
// caller's buffers; callers should Zero the Info once configuration is done.
package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultHandshakeTimeout bounds a TLS handshake when none is configured.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrInvalidCredential is returned by Configure when key or certificate
	// material is malformed or inconsistent.
	ErrInvalidCredential = errors.New("security: invalid credential")

	// ErrHandshake is returned by Accept when the TLS handshake fails.
	ErrHandshake = errors.New("security: handshake failed")

	// ErrNotConfigured is returned by Accept before Configure succeeded.
	ErrNotConfigured = errors.New("security: not configured")
)

// Info carries PEM-encoded TLS material. RootCACertificate is optional;
// when present, clients must present a certificate signed by it.
type Info struct {
	PrivateKey        []byte
	Certificate       []byte
	RootCACertificate []byte
}

// Zero overwrites every buffer in place and drops the references.
func (i *Info) Zero() {
	if i == nil {
		return
	}
	zero(i.PrivateKey)
	zero(i.Certificate)
	zero(i.RootCACertificate)
	i.PrivateKey, i.Certificate, i.RootCACertificate = nil, nil, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// CredentialError reports which part of an Info was rejected.
type CredentialError struct {
	Field string
	Err   error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("security: invalid %s: %v", e.Field, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Is makes every CredentialError match ErrInvalidCredential.
func (e *CredentialError) Is(target error) bool { return target == ErrInvalidCredential }

// HandshakeError wraps a failed TLS handshake with the peer address.
type HandshakeError struct {
	Remote string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("security: handshake with %s failed: %v", e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes every HandshakeError match ErrHandshake.
func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// Context is the TLS state shared by all connections of a server. It is
// safe for concurrent use; Configure and Reset may run while connections
// are being accepted.
type Context struct {
	mu               sync.RWMutex
	config           *tls.Config
	leaf             *x509.Certificate
	handshakeTimeout time.Duration
}

// NewContext returns an unconfigured context. A zero timeout uses
// DefaultHandshakeTimeout.
func NewContext(handshakeTimeout time.Duration) *Context {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Context{handshakeTimeout: handshakeTimeout}
}

// Configure validates info and installs it. The key must parse and match
// the certificate. On failure the previous configuration is kept.
func (c *Context) Configure(info *Info) error {
	if info == nil {
		return &CredentialError{Field: "security info", Err: errors.New("missing")}
	}
	if len(info.PrivateKey) == 0 {
		return &CredentialError{Field: "private key", Err: errors.New("empty")}
	}
	if len(info.Certificate) == 0 {
		return &CredentialError{Field: "certificate", Err: errors.New("empty")}
	}

	pair, err := tls.X509KeyPair(info.Certificate, info.PrivateKey)
	if err != nil {
		return &CredentialError{Field: "key pair", Err: err}
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return &CredentialError{Field: "certificate", Err: err}
	}
	pair.Leaf = leaf

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
		NextProtos:   []string{"http/1.1"},
	}
	if len(info.RootCACertificate) > 0 {
		pool, err := parsePool(info.RootCACertificate)
		if err != nil {
			return &CredentialError{Field: "root CA certificate", Err: err}
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	c.mu.Lock()
	c.config = cfg
	c.leaf = leaf
	c.mu.Unlock()
	return nil
}

// parsePool parses every CERTIFICATE block in data. At least one is
// required and every block must parse.
func parsePool(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	found := 0
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pool.AddCert(cert)
		found++
	}
	if found == 0 {
		return nil, errors.New("no PEM certificate found")
	}
	return pool, nil
}

// Enabled reports whether Configure has succeeded.
func (c *Context) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config != nil
}

// MutualTLS reports whether client certificates are required.
func (c *Context) MutualTLS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config != nil && c.config.ClientAuth == tls.RequireAndVerifyClientCert
}

// Leaf returns the parsed server certificate, or nil when unconfigured.
func (c *Context) Leaf() *x509.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leaf
}

// HandshakeTimeout returns the deadline applied to each handshake.
func (c *Context) HandshakeTimeout() time.Duration { return c.handshakeTimeout }

// Reset drops the installed configuration. Subsequent Accept calls fail
// with ErrNotConfigured.
func (c *Context) Reset() {
	c.mu.Lock()
	c.config = nil
	c.leaf = nil
	c.mu.Unlock()
}

// Accept performs the server side of a TLS handshake on raw. On failure
// raw is closed and a *HandshakeError is returned; the caller's accept loop
// is unaffected. The returned connection has no deadline set.
func (c *Context) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	c.mu.RLock()
	cfg := c.config
	c.mu.RUnlock()
	if cfg == nil {
		_ = raw.Close()
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn := tls.Server(raw, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = raw.Close()
			return nil, &HandshakeError{Remote: remote(raw), Err: err}
		}
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &HandshakeError{Remote: remote(raw), Err: err}
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, &HandshakeError{Remote: remote(raw), Err: err}
	}
	return conn, nil
}

func remote(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
