package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// latencyBuckets are the histogram upper bounds in seconds; +Inf is implicit.
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

type endpointMetrics struct {
	c2xx   uint64
	c4xx   uint64
	c5xx   uint64
	cOther uint64
	// buckets[i] counts requests no slower than latencyBuckets[i]; the last slot is +Inf.
	buckets [8]uint64
	sumNS   uint64
	cnt     uint64
}

type metricsRecorder struct {
	inflight int64
	rlDrops  uint64
	// compile outcomes
	compiled  uint64
	failed    uint64
	coalesced uint64

	mu sync.RWMutex
	by map[string]*endpointMetrics
}

func newMetricsRecorder(handlers ...string) *metricsRecorder {
	mr := &metricsRecorder{by: make(map[string]*endpointMetrics)}
	for _, h := range handlers {
		mr.by[h] = &endpointMetrics{}
	}
	return mr
}

func (m *metricsRecorder) endpoint(name string) *endpointMetrics {
	m.mu.RLock()
	em, ok := m.by[name]
	m.mu.RUnlock()
	if ok {
		return em
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if em, ok = m.by[name]; !ok {
		em = &endpointMetrics{}
		m.by[name] = em
	}
	return em
}

func (m *metricsRecorder) observe(name string, code int, d time.Duration) {
	em := m.endpoint(name)
	switch code / 100 {
	case 2:
		atomic.AddUint64(&em.c2xx, 1)
	case 4:
		atomic.AddUint64(&em.c4xx, 1)
	case 5:
		atomic.AddUint64(&em.c5xx, 1)
	default:
		atomic.AddUint64(&em.cOther, 1)
	}

	sec := d.Seconds()
	slot := len(latencyBuckets)
	for i, le := range latencyBuckets {
		if sec <= le {
			slot = i
			break
		}
	}
	atomic.AddUint64(&em.buckets[slot], 1)
	atomic.AddUint64(&em.cnt, 1)
	atomic.AddUint64(&em.sumNS, uint64(d.Nanoseconds()))
}

// serveMetrics writes the Prometheus text exposition format.
func (m *metricsRecorder) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	var b strings.Builder
	fmt.Fprintf(&b, "# TYPE minipy_inflight gauge\nminipy_inflight %d\n", atomic.LoadInt64(&m.inflight))
	fmt.Fprintf(&b, "# TYPE minipy_ratelimit_dropped_total counter\nminipy_ratelimit_dropped_total %d\n", atomic.LoadUint64(&m.rlDrops))
	fmt.Fprintf(&b, "# TYPE minipy_compilations_total counter\n")
	fmt.Fprintf(&b, "minipy_compilations_total{result=\"ok\"} %d\n", atomic.LoadUint64(&m.compiled))
	fmt.Fprintf(&b, "minipy_compilations_total{result=\"error\"} %d\n", atomic.LoadUint64(&m.failed))
	fmt.Fprintf(&b, "# TYPE minipy_compilations_coalesced_total counter\nminipy_compilations_coalesced_total %d\n", atomic.LoadUint64(&m.coalesced))

	m.mu.RLock()
	names := make([]string, 0, len(m.by))
	for name := range m.by {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	fmt.Fprintf(&b, "# TYPE minipy_requests_total counter\n")
	for _, name := range names {
		em := m.endpoint(name)
		fmt.Fprintf(&b, "minipy_requests_total{handler=%q,class=\"2xx\"} %d\n", name, atomic.LoadUint64(&em.c2xx))
		fmt.Fprintf(&b, "minipy_requests_total{handler=%q,class=\"4xx\"} %d\n", name, atomic.LoadUint64(&em.c4xx))
		fmt.Fprintf(&b, "minipy_requests_total{handler=%q,class=\"5xx\"} %d\n", name, atomic.LoadUint64(&em.c5xx))
		fmt.Fprintf(&b, "minipy_requests_total{handler=%q,class=\"other\"} %d\n", name, atomic.LoadUint64(&em.cOther))
	}

	fmt.Fprintf(&b, "# TYPE minipy_request_duration_seconds histogram\n")
	for _, name := range names {
		em := m.endpoint(name)
		var cumulative uint64
		for i, le := range latencyBuckets {
			cumulative += atomic.LoadUint64(&em.buckets[i])
			fmt.Fprintf(&b, "minipy_request_duration_seconds_bucket{handler=%q,le=\"%g\"} %d\n", name, le, cumulative)
		}
		cumulative += atomic.LoadUint64(&em.buckets[len(latencyBuckets)])
		fmt.Fprintf(&b, "minipy_request_duration_seconds_bucket{handler=%q,le=\"+Inf\"} %d\n", name, cumulative)
		fmt.Fprintf(&b, "minipy_request_duration_seconds_sum{handler=%q} %.6f\n", name, float64(atomic.LoadUint64(&em.sumNS))/1e9)
		fmt.Fprintf(&b, "minipy_request_duration_seconds_count{handler=%q} %d\n", name, atomic.LoadUint64(&em.cnt))
	}

	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(b.String()))
}
