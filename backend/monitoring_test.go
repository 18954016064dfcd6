package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRingBuffer_AddAndGet(t *testing.T) {
	cfg := ResolutionConfig{
		Name:       "1m",
		Resolution: 60 * time.Second,
		Buckets:    5,
	}
	rb := NewRingBuffer[float64](cfg)

	baseTime := int64(1000000)
	rb.Add(baseTime, 10.0)
	points := rb.GetPoints()
	if len(points) != 1 {
		t.Errorf("Expected 1 point, got %d", len(points))
	}
	if points[0].Value != 10.0 {
		t.Errorf("Expected value 10.0, got %f", points[0].Value)
	}

	rb.Add(baseTime+60, 20.0)
	// Same interval replaces the point.
	rb.Add(baseTime+60, 25.0)
	points = rb.GetPoints()
	if len(points) != 2 {
		t.Errorf("Expected 2 points after update, got %d", len(points))
	}
	if points[1].Value != 25.0 {
		t.Errorf("Expected updated value 25.0, got %f", points[1].Value)
	}

	rb.Add(baseTime+120, 30.0)
	rb.Add(baseTime+180, 40.0)
	rb.Add(baseTime+240, 50.0)
	rb.Add(baseTime+300, 60.0)
	points = rb.GetPoints()
	if len(points) != 5 {
		t.Errorf("Expected 5 points after wrap, got %d", len(points))
	}
	if points[0].Timestamp != ((baseTime + 60) / 60 * 60) {
		t.Errorf("Expected oldest timestamp %d, got %d", (baseTime+60)/60*60, points[0].Timestamp)
	}
	if points[4].Value != 60.0 {
		t.Errorf("Expected newest value 60.0, got %f", points[4].Value)
	}
}

func TestMetricSeries_IngestSums(t *testing.T) {
	ms := NewMetricSeries("requests")
	base := int64(3600 * 1000)
	ms.Ingest(base, 1)
	ms.Ingest(base+10, 1)
	ms.Ingest(base+70, 1)

	m := ms.Buffers["1m"].GetPoints()
	if len(m) != 2 || m[0].Value != 2 || m[1].Value != 1 {
		t.Errorf("1m points = %+v", m)
	}
	h := ms.Buffers["1h"].GetPoints()
	if len(h) != 1 || h[0].Value != 3 {
		t.Errorf("1h points = %+v", h)
	}
}

func TestHistogram(t *testing.T) {
	var h Histogram
	if got := h.Percentile(0.5); got != 0 {
		t.Errorf("empty Percentile = %v", got)
	}
	for i := 0; i < 9; i++ {
		h.Add(10 * time.Millisecond)
	}
	h.Add(120 * time.Millisecond)
	h.Add(time.Hour)

	if h.Count != 11 {
		t.Errorf("Count = %d", h.Count)
	}
	if h.Buckets[0] != 9 || h.Buckets[2] != 1 || h.Buckets[LatencyBuckets-1] != 1 {
		t.Errorf("unexpected buckets: %v", h.Buckets[:3])
	}
	if got := h.Percentile(0.5); got != 50 {
		t.Errorf("p50 = %v, want 50", got)
	}
	if got := h.Percentile(0.9); got != 150 {
		t.Errorf("p90 = %v, want 150", got)
	}

	var other Histogram
	other.Add(10 * time.Millisecond)
	h.Merge(&other)
	h.Merge(nil)
	if h.Count != 12 || h.Buckets[0] != 10 {
		t.Errorf("after merge Count = %d, Buckets[0] = %d", h.Count, h.Buckets[0])
	}
}

func TestLoggingMiddlewareRecords(t *testing.T) {
	mon := NewMonitor()
	h := loggingMiddleware(mon, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, p := range []string{"/a", "/b", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	snap := mon.Snapshot()
	if snap.Total != 3 {
		t.Errorf("Total = %d, want 3", snap.Total)
	}
	if snap.ByClass["2xx"] != 2 || snap.ByClass["4xx"] != 1 {
		t.Errorf("ByClass = %v", snap.ByClass)
	}
	if len(snap.RequestsPerMinute) == 0 {
		t.Error("expected a requests-per-minute point")
	}
}
