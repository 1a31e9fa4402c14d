package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolbot_messages_total",
			Help: "Inbound messages by channel and pipeline outcome",
		},
		[]string{"channel", "status"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schoolbot_generation_duration_seconds",
			Help:    "Reply generation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schoolbot_retrieval_results_count",
			Help:    "Number of knowledge chunks retrieved per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	UniqueQuestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolbot_questions_total",
			Help: "Questions recorded for analytics, new vs duplicate",
		},
		[]string{"result"},
	)

	IndexChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schoolbot_index_chunks",
			Help: "Chunks in the live knowledge index",
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schoolbot_reply_cache_hits_total",
			Help: "Reply cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schoolbot_reply_cache_misses_total",
			Help: "Reply cache misses",
		},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolbot_delivery_failures_total",
			Help: "Outbound delivery failures by channel",
		},
		[]string{"channel"},
	)
)

func Init() {
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(RetrievalResults)
	prometheus.MustRegister(UniqueQuestions)
	prometheus.MustRegister(IndexChunks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DeliveryFailures)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
