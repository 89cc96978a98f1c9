package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// IngestedWebhooks counts accepted ingestion requests.
	IngestedWebhooks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhooks_ingested_total", Help: "Webhooks accepted for delivery."},
	)
	// DeliveryAttempts counts delivery attempts by outcome status.
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_delivery_attempts_total", Help: "Delivery attempts by outcome."},
		[]string{"status"},
	)
	// DeliveryLatency tracks delivery attempt latencies in milliseconds.
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"status"},
	)
	// PurgedAttempts counts audit log rows removed by the retention sweep.
	PurgedAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_attempts_purged_total", Help: "Attempt records removed by retention."},
	)
)

var regOnce sync.Once

// Register registers all collectors on the service registry.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(IngestedWebhooks)
		Registry.MustRegister(DeliveryAttempts)
		Registry.MustRegister(DeliveryLatency)
		Registry.MustRegister(PurgedAttempts)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
