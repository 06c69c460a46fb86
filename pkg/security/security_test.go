package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"
)

func mustSelfSigned(t *testing.T) *Info {
	t.Helper()
	info, err := GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSigned() error = %v", err)
	}
	return info
}

func clientConfig(t *testing.T, info *Info) *tls.Config {
	t.Helper()
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(info.Certificate) {
		t.Fatal("AppendCertsFromPEM() = false")
	}
	return &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12}
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("Accept() failed")
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func TestConfigure_InvalidCredential(t *testing.T) {
	valid := mustSelfSigned(t)
	other := mustSelfSigned(t)
	tests := []struct {
		name  string
		info  *Info
		field string
	}{
		{"nil", nil, "security info"},
		{"empty key", &Info{Certificate: valid.Certificate}, "private key"},
		{"empty cert", &Info{PrivateKey: valid.PrivateKey}, "certificate"},
		{"garbage cert", &Info{PrivateKey: valid.PrivateKey, Certificate: []byte("-----BEGIN CERTIFICATE-----\nnot base64\n-----END CERTIFICATE-----\n")}, "key pair"},
		{"mismatched key", &Info{PrivateKey: other.PrivateKey, Certificate: valid.Certificate}, "key pair"},
		{"bad root ca", &Info{PrivateKey: valid.PrivateKey, Certificate: valid.Certificate, RootCACertificate: []byte("nope")}, "root CA certificate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(0)
			err := c.Configure(tt.info)
			if !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("Configure() error = %v, want ErrInvalidCredential", err)
			}
			var ce *CredentialError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("Configure() field = %v, want %q", err, tt.field)
			}
			if c.Enabled() {
				t.Error("Enabled() = true after failed Configure")
			}
		})
	}
}

func TestConfigure_FailureKeepsPrevious(t *testing.T) {
	c := NewContext(0)
	if err := c.Configure(mustSelfSigned(t)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	leaf := c.Leaf()
	if err := c.Configure(&Info{PrivateKey: []byte("x"), Certificate: []byte("y")}); err == nil {
		t.Fatal("Configure() with garbage succeeded")
	}
	if !c.Enabled() || c.Leaf() != leaf {
		t.Error("failed Configure replaced the working configuration")
	}
}

func TestInfo_Zero(t *testing.T) {
	info := mustSelfSigned(t)
	key := info.PrivateKey
	info.Zero()
	for i, b := range key {
		if b != 0 {
			t.Fatalf("key byte %d = %d after Zero", i, b)
		}
	}
	if info.PrivateKey != nil || info.Certificate != nil {
		t.Error("Zero() left references behind")
	}
	var nilInfo *Info
	nilInfo.Zero()
}

func TestAccept_Handshake(t *testing.T) {
	info := mustSelfSigned(t)
	c := NewContext(2 * time.Second)
	if err := c.Configure(info); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if c.MutualTLS() {
		t.Error("MutualTLS() = true without a root CA")
	}

	serverRaw, clientRaw := tcpPair(t)
	cfg := clientConfig(t, info)
	clientDone := make(chan error, 1)
	go func() {
		cc := tls.Client(clientRaw, cfg)
		err := cc.Handshake()
		if err == nil {
			_, err = cc.Write([]byte("ping"))
		}
		clientDone <- err
	}()

	conn, err := c.Accept(context.Background(), serverRaw)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer conn.Close()
	buf := make([]byte, 4)
	if _, err := conn.Read(buf); err != nil || string(buf) != "ping" {
		t.Fatalf("Read() = %q, %v, want ping", buf, err)
	}
	if err := <-clientDone; err != nil {
		t.Fatalf("client handshake error = %v", err)
	}
}

func TestAccept_HandshakeFailure(t *testing.T) {
	c := NewContext(time.Second)
	if err := c.Configure(mustSelfSigned(t)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	serverRaw, clientRaw := tcpPair(t)
	go func() {
		_, _ = clientRaw.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		_ = clientRaw.Close()
	}()
	_, err := c.Accept(context.Background(), serverRaw)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("Accept() error = %v, want ErrHandshake", err)
	}
	var he *HandshakeError
	if !errors.As(err, &he) || he.Remote == "" {
		t.Errorf("Accept() error = %#v, want *HandshakeError with remote", err)
	}
}

func TestAccept_Timeout(t *testing.T) {
	c := NewContext(50 * time.Millisecond)
	if err := c.Configure(mustSelfSigned(t)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	serverRaw, clientRaw := tcpPair(t)
	defer clientRaw.Close()
	start := time.Now()
	_, err := c.Accept(context.Background(), serverRaw)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("Accept() error = %v, want ErrHandshake", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Accept() took %v, want the handshake timeout to apply", time.Since(start))
	}
}

func TestAccept_NotConfigured(t *testing.T) {
	serverRaw, clientRaw := tcpPair(t)
	defer clientRaw.Close()
	c := NewContext(0)
	if _, err := c.Accept(context.Background(), serverRaw); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Accept() error = %v, want ErrNotConfigured", err)
	}
	if c.HandshakeTimeout() != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout() = %v, want %v", c.HandshakeTimeout(), DefaultHandshakeTimeout)
	}
}

func TestAccept_MutualTLS(t *testing.T) {
	server := mustSelfSigned(t)
	client := mustSelfSigned(t)
	c := NewContext(2 * time.Second)
	err := c.Configure(&Info{
		PrivateKey:        server.PrivateKey,
		Certificate:       server.Certificate,
		RootCACertificate: client.Certificate,
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if !c.MutualTLS() {
		t.Fatal("MutualTLS() = false with a root CA")
	}

	t.Run("with client certificate", func(t *testing.T) {
		pair, err := tls.X509KeyPair(client.Certificate, client.PrivateKey)
		if err != nil {
			t.Fatalf("X509KeyPair() error = %v", err)
		}
		cfg := clientConfig(t, server)
		cfg.Certificates = []tls.Certificate{pair}
		serverRaw, clientRaw := tcpPair(t)
		go func() {
			cc := tls.Client(clientRaw, cfg)
			_ = cc.Handshake()
			_, _ = cc.Write([]byte("x"))
		}()
		conn, err := c.Accept(context.Background(), serverRaw)
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
		defer conn.Close()
		state := conn.(*tls.Conn).ConnectionState()
		if len(state.PeerCertificates) != 1 {
			t.Errorf("peer certificates = %d, want 1", len(state.PeerCertificates))
		}
	})

	t.Run("without client certificate", func(t *testing.T) {
		cfg := clientConfig(t, server)
		serverRaw, clientRaw := tcpPair(t)
		go func() {
			cc := tls.Client(clientRaw, cfg)
			_ = cc.Handshake()
			_ = cc.Close()
		}()
		if _, err := c.Accept(context.Background(), serverRaw); !errors.Is(err, ErrHandshake) {
			t.Errorf("Accept() error = %v, want ErrHandshake", err)
		}
	})
}

func TestReset(t *testing.T) {
	c := NewContext(0)
	if err := c.Configure(mustSelfSigned(t)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	c.Reset()
	if c.Enabled() || c.Leaf() != nil {
		t.Error("Reset() left configuration installed")
	}
}
