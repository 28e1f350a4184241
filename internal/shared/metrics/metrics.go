package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	scanStartedTotal   atomic.Uint64
	scanCompletedTotal atomic.Uint64
	scanFailedTotal    atomic.Uint64
	scanSkippedTotal   atomic.Uint64

	messagesProcessedTotal atomic.Uint64
	messagesFailedTotal    atomic.Uint64
	messagesSkippedTotal   atomic.Uint64
	documentsCreatedTotal  atomic.Uint64
	duplicatesFlaggedTotal atomic.Uint64

	cacheHitTotal   atomic.Uint64
	cacheMissTotal  atomic.Uint64
	cacheErrorTotal atomic.Uint64

	extractionCallsTotal   atomic.Uint64
	extractionRetriesTotal atomic.Uint64
	extractionFailedTotal  atomic.Uint64
	tokenRefreshTotal      atomic.Uint64
	tokenRefreshFailed     atomic.Uint64
	tasksEnqueuedTotal     atomic.Uint64
	tasksFailedTotal       atomic.Uint64
	tasksReceivedTotal     atomic.Uint64
	tasksCompletedTotal    atomic.Uint64
	tasksDroppedTotal      atomic.Uint64
	httpPanicsTotal        atomic.Uint64

	scanDuration       = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000})
	extractionDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

func IncScanStarted()   { scanStartedTotal.Add(1) }
func IncScanCompleted() { scanCompletedTotal.Add(1) }
func IncScanFailed()    { scanFailedTotal.Add(1) }

// IncScanSkipped counts scan requests that found the connection already syncing.
func IncScanSkipped() { scanSkippedTotal.Add(1) }

func IncMessageProcessed() { messagesProcessedTotal.Add(1) }
func IncMessageFailed()    { messagesFailedTotal.Add(1) }

// AddMessagesSkipped counts candidate messages filtered out as already processed.
func AddMessagesSkipped(n int) {
	if n > 0 {
		messagesSkippedTotal.Add(uint64(n))
	}
}

func IncDocumentCreated()    { documentsCreatedTotal.Add(1) }
func IncDuplicateFlagged()   { duplicatesFlaggedTotal.Add(1) }
func IncCacheHit()           { cacheHitTotal.Add(1) }
func IncCacheMiss()          { cacheMissTotal.Add(1) }
func IncCacheError()         { cacheErrorTotal.Add(1) }
func IncExtractionCall()     { extractionCallsTotal.Add(1) }
func IncExtractionRetry()    { extractionRetriesTotal.Add(1) }
func IncExtractionFailed()   { extractionFailedTotal.Add(1) }
func IncTokenRefresh()       { tokenRefreshTotal.Add(1) }
func IncTokenRefreshFailed() { tokenRefreshFailed.Add(1) }
func IncTaskEnqueued()       { tasksEnqueuedTotal.Add(1) }
func IncTaskFailed()         { tasksFailedTotal.Add(1) }
func IncTaskReceived()       { tasksReceivedTotal.Add(1) }
func IncTaskCompleted()      { tasksCompletedTotal.Add(1) }

func IncHTTPPanic() { httpPanicsTotal.Add(1) }

// IncTaskDropped counts tasks removed from the queue without being processed.
func IncTaskDropped() { tasksDroppedTotal.Add(1) }

// ObserveScanDurationMs records a scan duration in milliseconds.
func ObserveScanDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	scanDuration.Observe(value)
}

// ObserveExtractionDurationMs records one extraction call duration in milliseconds.
func ObserveExtractionDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	extractionDuration.Observe(value)
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
	writeCounter(&buf, "mail_scan_started_total", "Total mailbox scans started", scanStartedTotal.Load())
	writeCounter(&buf, "mail_scan_completed_total", "Total mailbox scans completed", scanCompletedTotal.Load())
	writeCounter(&buf, "mail_scan_failed_total", "Total mailbox scans failed", scanFailedTotal.Load())
	writeCounter(&buf, "mail_scan_in_progress_skipped_total", "Scan requests ignored because a scan was running", scanSkippedTotal.Load())
	writeCounter(&buf, "mail_messages_processed_total", "Messages processed", messagesProcessedTotal.Load())
	writeCounter(&buf, "mail_messages_failed_total", "Messages recorded with an error", messagesFailedTotal.Load())
	writeCounter(&buf, "mail_messages_already_processed_total", "Candidate messages skipped as already processed", messagesSkippedTotal.Load())
	writeCounter(&buf, "documents_created_total", "Extracted documents created", documentsCreatedTotal.Load())
	writeCounter(&buf, "documents_duplicate_total", "Extracted documents flagged as duplicates", duplicatesFlaggedTotal.Load())
	writeCounter(&buf, "extraction_cache_hit_total", "Extraction cache hits", cacheHitTotal.Load())
	writeCounter(&buf, "extraction_cache_miss_total", "Extraction cache misses", cacheMissTotal.Load())
	writeCounter(&buf, "extraction_cache_error_total", "Extraction cache backend errors", cacheErrorTotal.Load())
	writeCounter(&buf, "extraction_calls_total", "Vision model calls", extractionCallsTotal.Load())
	writeCounter(&buf, "extraction_retries_total", "Vision model retries", extractionRetriesTotal.Load())
	writeCounter(&buf, "extraction_failed_total", "Extractions failed after retries", extractionFailedTotal.Load())
	writeCounter(&buf, "oauth_token_refresh_total", "OAuth token refreshes", tokenRefreshTotal.Load())
	writeCounter(&buf, "oauth_token_refresh_failed_total", "OAuth token refresh failures", tokenRefreshFailed.Load())
	writeCounter(&buf, "tasks_enqueued_total", "Post-ingest tasks enqueued", tasksEnqueuedTotal.Load())
	writeCounter(&buf, "tasks_failed_total", "Post-ingest tasks failed", tasksFailedTotal.Load())
	writeCounter(&buf, "tasks_received_total", "Tasks received by workers", tasksReceivedTotal.Load())
	writeCounter(&buf, "tasks_completed_total", "Tasks completed by workers", tasksCompletedTotal.Load())
	writeCounter(&buf, "tasks_dropped_total", "Tasks dropped as unprocessable", tasksDroppedTotal.Load())
	writeCounter(&buf, "http_panics_total", "Handler panics recovered", httpPanicsTotal.Load())
	writeHistogram(&buf, "mail_scan_duration_ms", "Scan duration in milliseconds", scanDuration.Snapshot())
	writeHistogram(&buf, "extraction_duration_ms", "Extraction call duration in milliseconds", extractionDuration.Snapshot())
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

// Observe adds a value to the first bucket whose upper bound contains it.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

// writeHistogram emits cumulative buckets; counts are stored per bucket.
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

// SinceMs returns the elapsed milliseconds since start.
func SinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
