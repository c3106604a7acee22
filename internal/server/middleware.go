package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request counting, latency and in-flight
// gauges labeled by handler name. With no metrics attached it returns the
// handler unchanged.
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		inFlight := s.metrics.HTTPRequestsInFlight.WithLabelValues(name)
		inFlight.Inc()
		defer inFlight.Dec()

		timer := prometheus.NewTimer(s.metrics.HTTPRequestDuration.WithLabelValues(name))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		s.metrics.HTTPRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	}
}
