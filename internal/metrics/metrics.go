// Package metrics exposes the service's Prometheus counters on a separate
// internal listener so scrapes never contend with upload traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_uploads_total",
		Help: "Accepted uploads by media type.",
	}, []string{"media_type"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_status_transitions_total",
		Help: "Processing state machine transitions by target status.",
	}, []string{"to"})

	PermissionDenialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_permission_denials_total",
		Help: "Read/write requests denied by the permission filter.",
	})

	DispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_dispatch_failures_total",
		Help: "Processing job submissions that failed or had no worker.",
	}, []string{"media_type"})
)

// Serve blocks on the internal metrics listener.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
