package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionStats provides the metrics collector access to live pipeline state.
type SessionStats interface {
	PendingChunks() int
	ProcessingChunks() int
	TranscriptSegmentCount() int
	BreakerTripped() bool
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats SessionStats

	// Descriptors for scrape-time gauges.
	queuePending       *prometheus.Desc
	queueProcessing    *prometheus.Desc
	transcriptSegments *prometheus.Desc
	breakerTripped     *prometheus.Desc
	sseSubscribers     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil if no session is running (metrics will report 0).
func NewCollector(stats SessionStats) *Collector {
	return &Collector{
		stats: stats,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending_chunks"),
			"Chunks waiting for a transcription worker.",
			nil, nil,
		),
		queueProcessing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "processing_chunks"),
			"Chunks currently being transcribed.",
			nil, nil,
		),
		transcriptSegments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcript_segments"),
			"Segments in the consolidated transcript.",
			nil, nil,
		),
		breakerTripped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "breaker_tripped"),
			"1 when consecutive transcription failures have halted the queue.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueProcessing
	ch <- c.transcriptSegments
	ch <- c.breakerTripped
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.queueProcessing, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.transcriptSegments, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.breakerTripped, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
		return
	}

	tripped := 0.0
	if c.stats.BreakerTripped() {
		tripped = 1
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, float64(c.stats.PendingChunks()))
	ch <- prometheus.MustNewConstMetric(c.queueProcessing, prometheus.GaugeValue, float64(c.stats.ProcessingChunks()))
	ch <- prometheus.MustNewConstMetric(c.transcriptSegments, prometheus.GaugeValue, float64(c.stats.TranscriptSegmentCount()))
	ch <- prometheus.MustNewConstMetric(c.breakerTripped, prometheus.GaugeValue, tripped)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SSESubscriberCount()))
}
