// Package admission decides whether a request may be served at all.
// Refused requests are answered with 429 Too Many Requests.
package admission

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Controller admits or refuses requests from a remote peer.
type Controller interface {
	Allow(remote net.Addr) bool
}

// AllowAll admits every request.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(net.Addr) bool { return true }

// Defaults for RateLimiter.
const (
	DefaultRPS      = 5
	DefaultBurst    = 10
	DefaultMaxPeers = 256
	idleTTL         = time.Minute
)

type peer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP. The number of tracked
// peers is bounded; idle peers are pruned when the bound is reached, and a
// new peer is refused when none can be pruned.
type RateLimiter struct {
	mu       sync.Mutex
	peers    map[string]*peer
	rps      rate.Limit
	burst    int
	maxPeers int
	now      func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive values use the defaults.
func NewRateLimiter(rps float64, burst, maxPeers int) *RateLimiter {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	return &RateLimiter{
		peers:    make(map[string]*peer),
		rps:      rate.Limit(rps),
		burst:    burst,
		maxPeers: maxPeers,
		now:      time.Now,
	}
}

// Allow reports whether remote may be served now.
func (l *RateLimiter) Allow(remote net.Addr) bool {
	key := hostOf(remote)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.peers[key]
	if !ok {
		if len(l.peers) >= l.maxPeers {
			l.pruneLocked(now)
			if len(l.peers) >= l.maxPeers {
				return false
			}
		}
		p = &peer{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.peers[key] = p
	}
	p.lastSeen = now
	return p.limiter.AllowN(now, 1)
}

// Peers returns the number of tracked peers.
func (l *RateLimiter) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func (l *RateLimiter) pruneLocked(now time.Time) {
	for k, p := range l.peers {
		if now.Sub(p.lastSeen) > idleTTL {
			delete(l.peers, k)
		}
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}
