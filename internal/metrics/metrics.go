package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wolgw_commands_published_total",
		Help: "Commands handed to the broker, by source, command and result",
	}, []string{"source", "command", "result"})

	ResponsesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wolgw_responses_received_total",
		Help: "Agent responses received on the response topic, by token",
	}, []string{"token"})

	UnauthorizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wolgw_unauthorized_commands_total",
		Help: "Chat commands dropped because the sender is not the authorized identity",
	}, []string{"channel"})

	ChatSendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wolgw_chat_send_failures_total",
		Help: "Outbound chat messages that failed to send",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wolgw_broker_connected",
		Help: "1 while the long-lived broker connection is established",
	})
)

// Publish results
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultUnavailable = "unavailable"
)

// IncPublished records a publish attempt.
func IncPublished(source, command, result string) {
	CommandsPublishedTotal.WithLabelValues(source, command, result).Inc()
}

// IncResponse records an agent response. Anything outside the known token set
// is bucketed as "other" to keep label cardinality fixed.
func IncResponse(token string, known bool) {
	if !known {
		token = "other"
	}
	ResponsesReceivedTotal.WithLabelValues(token).Inc()
}

// IncUnauthorized records a dropped command.
func IncUnauthorized(channel string) {
	if channel == "" {
		channel = "unknown"
	}
	UnauthorizedTotal.WithLabelValues(channel).Inc()
}

// SetBrokerConnected mirrors the bot connection state.
func SetBrokerConnected(up bool) {
	if up {
		BrokerConnected.Set(1)
		return
	}
	BrokerConnected.Set(0)
}
