package httpd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/pkg/chunked"
)

// startServer serves resources on a loopback listener until the test
// ends and returns the listen address.
func startServer(t *testing.T, opts Options, resources ...Resource) (*Server, string) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	srv := New(opts)
	for _, r := range resources {
		if err := srv.Register(r); err != nil {
			t.Fatalf("Register(%q) error = %v", r.Path, err)
		}
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		if err := <-served; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve() error = %v, want ErrServerClosed", err)
		}
	})
	return srv, l.Addr().String()
}

type client struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return newClient(t, conn)
}

func newClient(t *testing.T, conn net.Conn) *client {
	return &client{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, raw); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

// closeWrite half-closes the client side so the server sees EOF.
func (c *client) closeWrite() {
	c.t.Helper()
	tc, ok := c.conn.(*net.TCPConn)
	if !ok {
		c.t.Fatalf("closeWrite on %T", c.conn)
	}
	if err := tc.CloseWrite(); err != nil {
		c.t.Fatalf("CloseWrite() error = %v", err)
	}
}

// read reads one response, decoding its body according to its framing.
func (c *client) read() *fastparser.Response {
	c.t.Helper()
	resp, err := c.tryRead()
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	return resp
}

func (c *client) tryRead() (*fastparser.Response, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var head []byte
	for {
		line, err := c.br.ReadSlice('\n')
		if err != nil {
			return nil, err
		}
		head = append(head, line...)
		if string(line) == "\r\n" || string(line) == "\n" {
			break
		}
	}
	resp, err := fastparser.ParseResponseHead(head)
	if err != nil {
		return nil, err
	}
	f, err := fastparser.ResolveFraming(resp.Headers, false)
	if err != nil {
		return nil, err
	}
	switch {
	case f.Chunked:
		dec := chunked.NewDecoder(c.br, 0)
		for {
			span, err := dec.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
			resp.Body = append(resp.Body, span...)
		}
	case f.ContentLength >= 0:
		resp.Body = make([]byte, f.ContentLength)
		if _, err := io.ReadFull(c.br, resp.Body); err != nil {
			return nil, err
		}
	default:
		resp.Body, err = io.ReadAll(c.br)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// expectClosed asserts that the server closes the connection without
// sending more bytes.
func (c *client) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	b, err := c.br.ReadByte()
	if err == nil {
		c.t.Fatalf("connection still open, read %q", b)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.t.Fatal("connection not closed before timeout")
	}
}

func checkStatus(t *testing.T, resp *fastparser.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d %s, want %d", resp.StatusCode, resp.Reason, want)
	}
}
