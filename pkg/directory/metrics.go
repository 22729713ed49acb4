// Copyright 2024-2026 Aiku AI

package directory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// requests counts homeserver calls by operation and classified outcome.
var requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matrix_xmpp_directory_requests_total",
		Help: "Homeserver requests by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(requests)
}

func outcomeLabel(kind error) string {
	switch {
	case kind == nil:
		return "success"
	case errors.Is(kind, ErrNotFound):
		return "not_found"
	case errors.Is(kind, ErrForbidden):
		return "forbidden"
	case errors.Is(kind, ErrConfigurationMissing):
		return "configuration_missing"
	case errors.Is(kind, ErrTransport):
		return "transport_failure"
	default:
		return "remote_error"
	}
}

func observe(op string, kind error) {
	requests.WithLabelValues(op, outcomeLabel(kind)).Inc()
}
