package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.HandshakeFailed()
	m.Request(200, "GET", time.Millisecond, 120)
	m.Request(404, "GET", time.Millisecond, 80)
	m.ProtocolError()
	m.AdmissionDenied()

	tests := []struct {
		name string
		want float64
	}{
		{"shape_httpd_connections_total", 2},
		{"shape_httpd_connections_active", 1},
		{"shape_httpd_tls_handshake_failures_total", 1},
		{"shape_httpd_requests_total", 2},
		{"shape_httpd_response_bytes_total", 200},
		{"shape_httpd_protocol_errors_total", 1},
		{"shape_httpd_admission_denials_total", 1},
	}
	for _, tt := range tests {
		if got := gatherValue(t, reg, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry error = nil")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ConnOpened()
	m.ConnClosed()
	m.HandshakeFailed()
	m.Request(500, "PUT", 0, 0)
	m.ProtocolError()
	m.AdmissionDenied()
}
