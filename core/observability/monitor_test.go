package observability

import (
	"testing"
	"time"
)

func TestMonitorRecord(t *testing.T) {
	m := NewMonitor()

	m.Record("GET /api", 200, 10, 10*time.Millisecond)
	m.Record("GET /api", 200, 20, 20*time.Millisecond)
	m.Record("GET /api", 500, 30, 30*time.Millisecond)
	m.Record("POST /api", 201, 0, time.Millisecond)

	s := m.Snapshot()
	if s.Requests != 4 || s.Errors != 1 || s.Bytes != 60 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if len(s.Routes) != 2 || s.Routes[0].Route != "GET /api" {
		t.Fatalf("unexpected routes %+v", s.Routes)
	}

	api := s.Routes[0]
	if api.Count != 3 || api.Errors != 1 {
		t.Errorf("expected 3 requests with 1 error, got %d/%d", api.Count, api.Errors)
	}
	if api.Avg != 20*time.Millisecond || api.Min != 10*time.Millisecond || api.Max != 30*time.Millisecond {
		t.Errorf("unexpected durations avg=%v min=%v max=%v", api.Avg, api.Min, api.Max)
	}
	// all three fall in [10ms, 50ms)
	if api.Buckets[3] != 3 {
		t.Errorf("unexpected buckets %v", api.Buckets)
	}
}

func TestMonitorDisabled(t *testing.T) {
	m := NewMonitor()
	m.SetEnabled(false)
	m.Record("GET /", 200, 1, time.Millisecond)
	if s := m.Snapshot(); s.Requests != 0 || len(s.Routes) != 0 {
		t.Errorf("expected nothing recorded, got %+v", s)
	}
}

func TestMonitorBottlenecks(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 100; i++ {
		m.Record("GET /slow", 200, 0, 150*time.Millisecond)
		m.Record("GET /fast", 200, 0, time.Millisecond)
	}
	m.Record("GET /flaky", 500, 0, time.Millisecond)

	found := map[string]string{}
	for _, b := range m.Bottlenecks() {
		found[b.Route] = b.Type
	}
	if found["GET /slow"] != "latency" || found["GET /flaky"] != "errors" {
		t.Errorf("unexpected bottlenecks %v", found)
	}
	if _, ok := found["GET /fast"]; ok {
		t.Error("fast route must not be reported")
	}
}

func BenchmarkRecord(b *testing.B) {
	m := NewMonitor()
	d := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Record("GET /api", 200, 11, d)
	}
}
