// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const LatencyBuckets = 101
const LatencyBucketSize = 50 * time.Millisecond

type Histogram struct {
	Buckets [LatencyBuckets]uint64 `json:"b2"`
	Count   uint64                 `json:"c"`
	Sum     float64                `json:"s"` // Sum of durations in milliseconds
}

func (h *Histogram) Add(d time.Duration) {
	ms := float64(d.Milliseconds())
	idx := int(d / LatencyBucketSize)
	if idx >= LatencyBuckets {
		idx = LatencyBuckets - 1
	}
	if idx < 0 {
		idx = 0
	}
	h.Buckets[idx]++
	h.Count++
	h.Sum += ms
}

func (h *Histogram) Merge(other *Histogram) {
	if other == nil {
		return
	}
	for i := 0; i < LatencyBuckets; i++ {
		h.Buckets[i] += other.Buckets[i]
	}
	h.Count += other.Count
	h.Sum += other.Sum
}

// Percentile returns the upper bound, in milliseconds, of the bucket holding
// the p-th fraction of samples.
func (h *Histogram) Percentile(p float64) float64 {
	if h.Count == 0 {
		return 0
	}
	target := uint64(math.Ceil(p * float64(h.Count)))
	if target == 0 {
		target = 1
	}
	var seen uint64
	for i, n := range h.Buckets {
		seen += n
		if seen >= target {
			return float64((time.Duration(i+1) * LatencyBucketSize).Milliseconds())
		}
	}
	return float64((LatencyBuckets * LatencyBucketSize).Milliseconds())
}

// ResolutionConfig defines the policy for a single RRD bucket set.
type ResolutionConfig struct {
	Name       string        `json:"name"`
	Resolution time.Duration `json:"resolution"`
	Retention  time.Duration `json:"retention"`
	Buckets    int           `json:"buckets"`
}

var DefaultResolutions = []ResolutionConfig{
	{"1m", 1 * time.Minute, 2 * time.Hour, 120},
	{"1h", 1 * time.Hour, 7 * 24 * time.Hour, 168},
}

// Point represents a single data point in a time series.
type Point[T any] struct {
	Timestamp int64 `json:"t"`
	Value     T     `json:"v"`
}

// RingBuffer is a fixed-size circular buffer for storing time series data.
type RingBuffer[T any] struct {
	Config ResolutionConfig `json:"config"`
	Data   []Point[T]       `json:"data"`
	Head   int              `json:"head"` // Points to the *next* write position
}

func NewRingBuffer[T any](cfg ResolutionConfig) *RingBuffer[T] {
	return &RingBuffer[T]{
		Config: cfg,
		Data:   make([]Point[T], cfg.Buckets),
	}
}

func (rb *RingBuffer[T]) align(timestamp int64) int64 {
	resSec := int64(rb.Config.Resolution.Seconds())
	return (timestamp / resSec) * resSec
}

func (rb *RingBuffer[T]) last() *Point[T] {
	return &rb.Data[(rb.Head-1+len(rb.Data))%len(rb.Data)]
}

// Add appends a point to the ring buffer, or replaces the latest point if
// it falls in the same interval.
func (rb *RingBuffer[T]) Add(timestamp int64, value T) {
	alignedTs := rb.align(timestamp)
	if prev := rb.last(); prev.Timestamp == alignedTs {
		prev.Value = value
		return
	}
	rb.Data[rb.Head] = Point[T]{Timestamp: alignedTs, Value: value}
	rb.Head = (rb.Head + 1) % len(rb.Data)
}

// GetPoints returns the data points sorted by time.
func (rb *RingBuffer[T]) GetPoints() []Point[T] {
	points := make([]Point[T], 0, len(rb.Data))
	for i := 0; i < len(rb.Data); i++ {
		idx := (rb.Head + i) % len(rb.Data)
		if rb.Data[idx].Timestamp > 0 {
			points = append(points, rb.Data[idx])
		}
	}
	return points
}

// MetricSeries holds all resolutions of a counter. Values ingested in the
// same interval are summed.
type MetricSeries struct {
	Name    string                          `json:"name"`
	Buffers map[string]*RingBuffer[float64] `json:"buffers"`
}

func NewMetricSeries(name string) *MetricSeries {
	buffers := make(map[string]*RingBuffer[float64])
	for _, cfg := range DefaultResolutions {
		buffers[cfg.Name] = NewRingBuffer[float64](cfg)
	}
	return &MetricSeries{Name: name, Buffers: buffers}
}

func (ms *MetricSeries) Ingest(timestamp int64, value float64) {
	for _, buf := range ms.Buffers {
		if prev := buf.last(); prev.Timestamp == buf.align(timestamp) {
			prev.Value += value
			continue
		}
		buf.Add(timestamp, value)
	}
}

// Monitor collects request counts and latencies for /api/status.
type Monitor struct {
	mu       sync.Mutex
	start    time.Time
	latency  Histogram
	byClass  map[string]uint64
	requests *MetricSeries
}

func NewMonitor() *Monitor {
	return &Monitor{
		start:    time.Now(),
		byClass:  make(map[string]uint64),
		requests: NewMetricSeries("requests"),
	}
}

// Record adds one served request.
func (m *Monitor) Record(status int, d time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency.Add(d)
	m.byClass[fmt.Sprintf("%dxx", status/100)]++
	m.requests.Ingest(now.Unix(), 1)
}

// RequestMetrics is the request section of /api/status.
type RequestMetrics struct {
	UptimeSeconds     int64             `json:"uptimeSeconds"`
	Total             uint64            `json:"total"`
	ByClass           map[string]uint64 `json:"byClass"`
	Latency           Histogram         `json:"latency"`
	P50MS             float64           `json:"p50Ms"`
	P95MS             float64           `json:"p95Ms"`
	RequestsPerMinute []Point[float64]  `json:"requestsPerMinute"`
}

func (m *Monitor) Snapshot() RequestMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	byClass := make(map[string]uint64, len(m.byClass))
	for k, v := range m.byClass {
		byClass[k] = v
	}
	return RequestMetrics{
		UptimeSeconds:     int64(time.Since(m.start).Seconds()),
		Total:             m.latency.Count,
		ByClass:           byClass,
		Latency:           m.latency,
		P50MS:             m.latency.Percentile(0.50),
		P95MS:             m.latency.Percentile(0.95),
		RequestsPerMinute: m.requests.Buffers["1m"].GetPoints(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs every request and records it in mon.
func loggingMiddleware(mon *Monitor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		d := time.Since(start)
		mon.Record(rec.status, d, start)
		zap.S().Infof("%s %s %d %s", r.Method, r.URL.Path, rec.status, d.Round(time.Microsecond))
	})
}
