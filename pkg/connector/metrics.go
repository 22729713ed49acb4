// Copyright 2024-2026 Aiku AI

package connector

import "github.com/prometheus/client_golang/prometheus"

var relayedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matrix_xmpp_relayed_messages_total",
		Help: "Messages handled by the relay, by direction and result.",
	},
	[]string{"direction", "result"},
)

const (
	directionToMatrix = "to_matrix"
	directionToXMPP   = "to_xmpp"
)

func init() {
	prometheus.MustRegister(relayedMessages)
}
