package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	EmailsFetched      *prometheus.CounterVec
	EmailsIngested     *prometheus.CounterVec
	MessagesClaimed    prometheus.Counter
	AnalysesCreated    prometheus.Counter
	ExtractionFailures *prometheus.CounterVec
	ExtractionAttempts prometheus.Histogram
	ValidationDiscards prometheus.Counter
	LinksResolved      prometheus.Counter
	PushSent           prometheus.Counter
	PushChunkFailures  prometheus.Counter
	PromotionsSent     prometheus.Counter
	ProcessingTime     prometheus.Histogram
	QueueDepth         prometheus.Gauge
}

// NewMetrics registers the pipeline metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EmailsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saledrop_emails_fetched_total",
			Help: "Total number of emails read from a mailbox",
		}, []string{"mailbox"}),
		EmailsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saledrop_emails_ingested_total",
			Help: "Total number of new raw messages stored",
		}, []string{"mailbox"}),
		MessagesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_messages_claimed_total",
			Help: "Total number of raw messages claimed for analysis",
		}),
		AnalysesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_analyses_created_total",
			Help: "Total number of analyses stored",
		}),
		ExtractionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saledrop_extraction_failures_total",
			Help: "Total number of failed extractions by category",
		}, []string{"category"}),
		ExtractionAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "saledrop_extraction_attempts",
			Help:    "Model calls needed per extraction",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		ValidationDiscards: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_validation_discards_total",
			Help: "Total number of extractions discarded by validation",
		}),
		LinksResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_links_resolved_total",
			Help: "Total number of tracking links resolved",
		}),
		PushSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_push_sent_total",
			Help: "Total number of push messages accepted by the gateway",
		}),
		PushChunkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_push_chunk_failures_total",
			Help: "Total number of push chunks the gateway rejected",
		}),
		PromotionsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "saledrop_promotions_sent_total",
			Help: "Total number of promotional messages dispatched",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "saledrop_processing_duration_seconds",
			Help:    "Time spent processing one claimed batch",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "saledrop_job_queue_depth",
			Help: "Number of triggered jobs waiting for a worker",
		}),
	}
}
