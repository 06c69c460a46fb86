package admission

import (
	"net"
	"testing"
	"time"
)

func addr(s string) net.Addr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestRateLimiter_Burst(t *testing.T) {
	l := NewRateLimiter(1, 3, 0)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	client := addr("10.0.0.1:5000")
	for i := 0; i < 3; i++ {
		if !l.Allow(client) {
			t.Fatalf("Allow() #%d = false within burst", i)
		}
	}
	if l.Allow(client) {
		t.Fatal("Allow() = true after burst exhausted")
	}
	// Another port on the same host shares the bucket.
	if l.Allow(addr("10.0.0.1:6000")) {
		t.Error("Allow() = true for same host on another port")
	}
	if !l.Allow(addr("10.0.0.2:5000")) {
		t.Error("Allow() = false for a different host")
	}

	now = now.Add(time.Second)
	if !l.Allow(client) {
		t.Error("Allow() = false after refill")
	}
}

func TestRateLimiter_PeerBound(t *testing.T) {
	l := NewRateLimiter(10, 10, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow(addr("10.0.0.1:1")) || !l.Allow(addr("10.0.0.2:1")) {
		t.Fatal("Allow() = false under the peer bound")
	}
	if l.Allow(addr("10.0.0.3:1")) {
		t.Fatal("Allow() = true beyond the peer bound with no idle peers")
	}
	now = now.Add(2 * idleTTL)
	if !l.Allow(addr("10.0.0.3:1")) {
		t.Fatal("Allow() = false after idle peers could be pruned")
	}
	if l.Peers() != 1 {
		t.Errorf("Peers() = %d, want 1", l.Peers())
	}
}

func TestAllowAll(t *testing.T) {
	var c Controller = AllowAll{}
	if !c.Allow(nil) {
		t.Error("AllowAll.Allow() = false")
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(0, 0, 0)
	if l.burst != DefaultBurst || l.maxPeers != DefaultMaxPeers || float64(l.rps) != DefaultRPS {
		t.Errorf("defaults = %v/%d/%d", l.rps, l.burst, l.maxPeers)
	}
}
