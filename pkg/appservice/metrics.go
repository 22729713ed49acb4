// Copyright 2024-2026 Aiku AI

package appservice

import "github.com/prometheus/client_golang/prometheus"

var transactions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "matrix_xmpp_transactions_total",
		Help: "Appservice transactions received, by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(transactions)
}
