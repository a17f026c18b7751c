package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robalyx/jointracker/internal/database/types"
)

const (
	sinkChannel = "channel"
	sinkWebhook = "webhook"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jointracker_member_events_total",
		Help: "The number of member events recorded by type and outcome",
	}, []string{"type", "outcome"})

	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jointracker_deliveries_total",
		Help: "The number of report deliveries by sink and outcome",
	}, []string{"sink", "outcome"})
)

func recordEvent(eventType types.EventType, err error) {
	metricEvents.WithLabelValues(string(eventType), outcome(err)).Inc()
}

func recordDelivery(sink string, err error) {
	metricDeliveries.WithLabelValues(sink, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
