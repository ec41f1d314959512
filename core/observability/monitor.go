package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Latency bucket upper bounds; the last bucket is unbounded
var bucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

const bucketCount = len(bucketBounds) + 1

// Monitor records per-route request metrics. Recording happens on the
// reactor goroutine; snapshots may be taken from any goroutine.
type Monitor struct {
	enabled atomic.Bool
	routes  sync.Map // route -> *routeMetrics
	global  struct {
		requests atomic.Uint64
		errors   atomic.Uint64
		duration atomic.Uint64
		bytes    atomic.Uint64
	}
}

type routeMetrics struct {
	name          string
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	minDuration   atomic.Uint64
	maxDuration   atomic.Uint64
	bytes         atomic.Uint64
	buckets       [bucketCount]atomic.Uint64
}

// RouteStats is a point-in-time copy of one route's metrics
type RouteStats struct {
	Route   string              `json:"route"`
	Count   uint64              `json:"count"`
	Errors  uint64              `json:"errors"`
	Bytes   uint64              `json:"bytes"`
	Avg     time.Duration       `json:"avg"`
	Min     time.Duration       `json:"min"`
	Max     time.Duration       `json:"max"`
	Buckets [bucketCount]uint64 `json:"buckets"`
}

// Snapshot is a copy of every metric
type Snapshot struct {
	Requests uint64        `json:"requests"`
	Errors   uint64        `json:"errors"`
	Bytes    uint64        `json:"bytes"`
	Avg      time.Duration `json:"avg"`
	Routes   []RouteStats  `json:"routes"`
}

// Bottleneck is a route whose metrics look unhealthy
type Bottleneck struct {
	Type     string
	Route    string
	Severity int
	Impact   float64
	Details  string
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns recording on or off
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// Record adds one finished request. Status codes of 500 and above count as errors.
func (m *Monitor) Record(route string, status int, bytes int, d time.Duration) {
	if !m.enabled.Load() {
		return
	}

	val, ok := m.routes.Load(route)
	if !ok {
		val, _ = m.routes.LoadOrStore(route, &routeMetrics{name: route})
	}
	rm := val.(*routeMetrics)

	ns := uint64(d.Nanoseconds())
	rm.count.Add(1)
	rm.totalDuration.Add(ns)
	rm.bytes.Add(uint64(bytes))
	if status >= 500 {
		rm.errors.Add(1)
		m.global.errors.Add(1)
	}
	updateMinMax(rm, ns)
	rm.buckets[bucketFor(d)].Add(1)

	m.global.requests.Add(1)
	m.global.duration.Add(ns)
	m.global.bytes.Add(uint64(bytes))
}

func updateMinMax(rm *routeMetrics, d uint64) {
	for {
		min := rm.minDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if rm.minDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := rm.maxDuration.Load()
		if d <= max {
			break
		}
		if rm.maxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return bucketCount - 1
}

// Snapshot copies the current metrics, routes sorted by name
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Requests: m.global.requests.Load(),
		Errors:   m.global.errors.Load(),
		Bytes:    m.global.bytes.Load(),
	}
	if s.Requests > 0 {
		s.Avg = time.Duration(m.global.duration.Load() / s.Requests)
	}

	m.routes.Range(func(_, value any) bool {
		rm := value.(*routeMetrics)
		rs := RouteStats{
			Route:  rm.name,
			Count:  rm.count.Load(),
			Errors: rm.errors.Load(),
			Bytes:  rm.bytes.Load(),
			Min:    time.Duration(rm.minDuration.Load()),
			Max:    time.Duration(rm.maxDuration.Load()),
		}
		if rs.Count > 0 {
			rs.Avg = time.Duration(rm.totalDuration.Load() / rs.Count)
		}
		for i := range rm.buckets {
			rs.Buckets[i] = rm.buckets[i].Load()
		}
		s.Routes = append(s.Routes, rs)
		return true
	})
	sort.Slice(s.Routes, func(i, j int) bool { return s.Routes[i].Route < s.Routes[j].Route })
	return s
}

// Bottlenecks reports routes with a high average latency or error rate
func (m *Monitor) Bottlenecks() []Bottleneck {
	var out []Bottleneck
	for _, rs := range m.Snapshot().Routes {
		if rs.Count == 0 {
			continue
		}
		if rs.Avg > 100*time.Millisecond {
			out = append(out, Bottleneck{
				Type:     "latency",
				Route:    rs.Route,
				Severity: 8,
				Impact:   100.0,
				Details:  fmt.Sprintf("high latency (%v avg)", rs.Avg),
			})
		}
		if rate := float64(rs.Errors) / float64(rs.Count); rate > 0.05 {
			out = append(out, Bottleneck{
				Type:     "errors",
				Route:    rs.Route,
				Severity: 10,
				Impact:   rate * 100,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return out
}
