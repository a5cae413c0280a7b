// Package metrics owns the process-wide Prometheus registry and the
// scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var registry = prometheus.NewRegistry()

// Registry returns the process registry. Component constructors take it
// as their Registerer rather than the package-level default, so tests
// can build engines and runners repeatedly without name collisions.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns the scrape handler for the process registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr. It blocks; run it in its own
// goroutine.
func Serve(addr string, logger *zap.Logger) error {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
