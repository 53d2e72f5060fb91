package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts phase-1 orders accepted by the engine, by side.
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coinvest_orders_placed_total",
		Help: "Total number of pending orders registered by the engine",
	},
	[]string{"side"},
)

// OrdersSettled counts successfully settled orders, by side.
var OrdersSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coinvest_orders_settled_total",
		Help: "Total number of orders settled by the price callback",
	},
	[]string{"side"},
)

// SettlementFailures counts aborted phase-2 attempts. The pending order
// survives a failed attempt, so one order may fail several times.
var SettlementFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "coinvest_settlement_failures_total",
		Help: "Total number of aborted settlement callbacks",
	},
)

// SettlementLatency records the latency of the settlement callback.
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "coinvest_settlement_latency_seconds",
		Help:    "Latency in seconds of individual settlement callbacks",
		Buckets: prometheus.DefBuckets,
	},
)

// FeesCollected accumulates protocol fees in settlement-token units.
var FeesCollected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coinvest_fees_collected_total",
		Help: "Total protocol fees collected, in settlement token units",
	},
	[]string{"token"},
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersSettled, SettlementFailures, SettlementLatency, FeesCollected)
}
