package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mjproxy_gateway_reconnects_total",
		Help: "Gateway reconnect attempts per account, by kind (resume|fresh).",
	}, []string{"account", "kind"})

	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mjproxy_gateway_events_total",
		Help: "Dispatch events received, by event type.",
	}, []string{"type"})

	GatewayHeartbeatLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mjproxy_gateway_heartbeat_latency_seconds",
		Help: "Round-trip time of the last acknowledged heartbeat.",
	}, []string{"account"})

	AccountsDisabled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mjproxy_accounts_disabled_total",
		Help: "Accounts disabled after exhausting connection retries.",
	}, []string{"account"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mjproxy_tasks_finished_total",
		Help: "Tasks reaching a terminal state, by status.",
	}, []string{"status"})

	TasksRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mjproxy_tasks_running",
		Help: "Tasks currently dispatched and awaiting a terminal event.",
	}, []string{"account"})

	TasksQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mjproxy_tasks_queued",
		Help: "Tasks waiting for a free slot.",
	}, []string{"account"})
)
