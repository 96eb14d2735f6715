package server

import "github.com/prometheus/client_golang/prometheus"

var (
	metricMessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talentchat_messages_routed_total",
		Help: "Messages persisted by the router, by channel.",
	}, []string{"channel"})

	metricPushDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talentchat_push_delivered_total",
		Help: "Realtime pushes written to a live connection.",
	})

	metricPushMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talentchat_push_missed_total",
		Help: "Pushes skipped or failed; the recipient falls back to polling.",
	})

	metricNotificationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talentchat_notifications_created_total",
		Help: "Notification rows written by the fan-out.",
	})

	metricActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talentchat_active_connections",
		Help: "Authenticated websocket connections currently registered.",
	})
)

func init() {
	prometheus.MustRegister(
		metricMessagesRouted,
		metricPushDelivered,
		metricPushMissed,
		metricNotificationsCreated,
		metricActiveConnections,
	)
}
