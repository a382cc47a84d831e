package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "utskick_enqueued_total",
		Help: "Number of messages added to the queue.",
	})
	Delivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "utskick_delivered_total",
		Help: "Number of messages delivered to the relay.",
	})
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "utskick_delivery_failures_total",
		Help: "Number of failed delivery attempts, including timeouts.",
	})
	Exhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "utskick_exhausted_total",
		Help: "Number of messages parked as failed after the attempt limit.",
	})
)
