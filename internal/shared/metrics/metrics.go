package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	cacheSavesTotal        atomic.Uint64
	cacheSaveFailuresTotal atomic.Uint64
	cacheEvictionsTotal    atomic.Uint64
	cacheSyncReloadsTotal  atomic.Uint64

	cacheSaveDuration = newHistogram([]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000})
)

// IncCacheSaves increments the save-attempt counter.
func IncCacheSaves() {
	cacheSavesTotal.Add(1)
}

// IncCacheSaveFailures increments the counter of saves that failed even after
// the eviction retry.
func IncCacheSaveFailures() {
	cacheSaveFailuresTotal.Add(1)
}

// AddCacheEvictions adds the number of documents removed by one cleanup pass.
func AddCacheEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(uint64(n))
	}
}

// IncCacheSyncReloads increments the counter of wholesale reloads triggered by
// sync checks.
func IncCacheSyncReloads() {
	cacheSyncReloadsTotal.Add(1)
}

// ObserveCacheSaveDurationMs records one save duration in milliseconds.
func ObserveCacheSaveDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	cacheSaveDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "cache_saves_total", "Total document save attempts", cacheSavesTotal.Load())
	writeCounter(&buf, "cache_save_failures_total", "Total document saves that failed after retry", cacheSaveFailuresTotal.Load())
	writeCounter(&buf, "cache_evictions_total", "Total documents evicted by cleanup", cacheEvictionsTotal.Load())
	writeCounter(&buf, "cache_sync_reloads_total", "Total wholesale reloads from the backend", cacheSyncReloadsTotal.Load())
	writeHistogram(&buf, "cache_save_duration_ms", "Document save duration in milliseconds", cacheSaveDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
