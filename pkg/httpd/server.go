package httpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Server serves the resources in its registry on one listener.
type Server struct {
	opts Options
	log  *zap.Logger
	reg  *registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// New creates a server. Zero-valued options take their defaults.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		log:    opts.Logger,
		reg:    newRegistry(opts.MaxResources, opts.Mime),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*conn]struct{}),
	}
}

// Register adds a resource. It fails with ErrDuplicatePath if the path is
// already registered, ErrRegistryFull when MaxResources is reached, and
// ErrInvalidResource when the payload does not match the kind. On failure
// the registry is unchanged.
func (s *Server) Register(res Resource) error {
	if err := s.reg.register(res); err != nil {
		return err
	}
	s.log.Debug("resource_registered",
		zap.String("path", res.Path),
		zap.Stringer("kind", res.Kind),
		zap.Bool("raw", res.Raw))
	return nil
}

// Unregister removes the resource registered under exactly path.
func (s *Server) Unregister(path string) error {
	return s.reg.unregister(path)
}

// Lookup resolves a request path. An exact path wins over patterns; among
// matching patterns the one with the most literal bytes wins, and ties go
// to the earliest registration.
func (s *Server) Lookup(path string) (*Resource, bool) {
	return s.reg.lookup(path)
}

// Resources returns the registered resources in registration order.
func (s *Server) Resources() []Resource {
	return s.reg.snapshot()
}

// Start listens on Options.Addr and serves in the background. It returns
// once the listener is open.
func (s *Server) Start() error {
	addr := s.opts.Addr
	if addr == "" {
		addr = ":80"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpd: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, ErrServerClosed) {
			s.log.Error("serve_failed", zap.Error(err))
		}
	}()
	return nil
}

// Serve accepts connections on l until Stop is called. At most
// MaxConnections connections are served at once. Serve always returns a
// non-nil error; after Stop it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	l = netutil.LimitListener(l, s.opts.MaxConnections)

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Info("server_listening",
		zap.String("addr", l.Addr().String()),
		zap.Bool("tls", s.opts.Security != nil && s.opts.Security.Enabled()),
		zap.Int("max_connections", s.opts.MaxConnections))

	var delay time.Duration
	for {
		raw, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = backoff(delay)
				s.log.Warn("accept_failed", zap.Error(err), zap.Duration("retry_in", delay))
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("httpd: accept: %w", err)
		}
		delay = 0

		c := newConn(s, raw)
		if !s.track(c) {
			raw.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.untrack(c)
			c.serve(s.ctx)
		}()
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// DisconnectAll closes every open connection. The listener keeps
// accepting.
func (s *Server) DisconnectAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for c := range s.conns {
		err = multierr.Append(err, c.closeNet())
	}
	return err
}

// Stop closes the listener and idle connections, then waits for active
// connections to finish until ctx is done, after which they are closed.
// The returned error combines every close failure and the context error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	var err error
	if s.listener != nil {
		err = multierr.Append(err, s.listener.Close())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.closeIdle()
		select {
		case <-done:
			s.cancel()
			s.log.Info("server_stopped")
			return err
		case <-ctx.Done():
			s.cancel()
			err = multierr.Append(err, s.DisconnectAll())
			<-done
			s.log.Warn("server_stop_forced", zap.Error(ctx.Err()))
			return multierr.Append(err, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Server) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.idle.Load() {
			_ = c.closeNet()
		}
	}
}
