// Package metrics registers the Prometheus instrumentation for the
// transcription pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	SegmentsTotal   *prometheus.CounterVec
	SegmentRetries  prometheus.Counter
	QuotaDenied     prometheus.Counter
	ModelLoads      *prometheus.CounterVec
	ModelEvictions  prometheus.Counter
	BytesTranscoded prometheus.Counter
}

// New creates and registers all pipeline metrics on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_jobs_total",
			Help: "Transcription jobs by terminal outcome",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribeflow_job_duration_seconds",
			Help:    "End-to-end job duration",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		SegmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_segments_total",
			Help: "Audio segments transcribed by backend",
		}, []string{"backend"}),
		SegmentRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribeflow_segment_retries_total",
			Help: "Segment transcription attempts beyond the first",
		}),
		QuotaDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribeflow_quota_denied_total",
			Help: "Requests denied by the daily quota",
		}),
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_model_loads_total",
			Help: "Local model loads by result",
		}, []string{"result"}),
		ModelEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribeflow_model_evictions_total",
			Help: "Models evicted from the in-memory cache",
		}),
		BytesTranscoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribeflow_audio_bytes_total",
			Help: "Bytes of audio admitted into the pipeline",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
