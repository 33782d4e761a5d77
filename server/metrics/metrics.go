// Package metrics exposes Prometheus instrumentation for the relay's two
// hot paths: uploads toward the carrier and deliveries back out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_uploads_total",
		Help: "Upload attempts by outcome.",
	}, []string{"outcome"})

	UploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ferry_uploaded_bytes_total",
		Help: "Bytes accepted and relayed to the carrier.",
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ferry_deliveries_total",
		Help: "Download and stream responses by status code.",
	}, []string{"status"})

	DeliveredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ferry_delivered_bytes_total",
		Help: "Bytes streamed back to clients.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
