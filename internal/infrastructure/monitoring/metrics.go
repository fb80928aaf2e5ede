package monitoring

import (
	"time"

	"agentdesk/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workstation's Prometheus collectors.
type Metrics struct {
	sessionsStarted  prometheus.Counter
	sessionFailures  prometheus.Counter
	activeSessions   prometheus.Gauge
	sessionEvents    *prometheus.CounterVec
	presenceChanges  *prometheus.CounterVec
	presenceFailures prometheus.Counter

	callPacketLoss prometheus.Gauge
	callJitter     prometheus.Gauge
	callRTT        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_sessions_started_total",
			Help: "Call sessions the coordinator started",
		}),
		sessionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_session_failures_total",
			Help: "Sessions that degraded to failed",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentdesk_active_sessions",
			Help: "Active call sessions (0 or 1 per workstation)",
		}),
		sessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_session_events_total",
			Help: "Session lifecycle events by type",
		}, []string{"event"}),
		presenceChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdesk_presence_transitions_total",
			Help: "Accepted presence transitions by target state",
		}, []string{"state"}),
		presenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentdesk_presence_sync_failures_total",
			Help: "Best-effort presence syncs that failed",
		}),
		callPacketLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentdesk_call_packet_loss_ratio",
			Help: "Packet loss of the active call, from RTCP receiver reports",
		}),
		callJitter: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentdesk_call_jitter_seconds",
			Help: "Jitter of the active call",
		}),
		callRTT: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentdesk_call_rtt_seconds",
			Help: "Estimated round-trip time of the active call",
		}),
	}
}

// ObserveSessionEvent updates session counters from a lifecycle event.
func (m *Metrics) ObserveSessionEvent(event domain.SessionEvent) {
	m.sessionEvents.WithLabelValues(string(event)).Inc()
	switch event {
	case domain.SessionConnecting:
		m.sessionsStarted.Inc()
		m.activeSessions.Set(1)
	case domain.SessionFailed:
		m.sessionFailures.Inc()
		m.activeSessions.Set(0)
	case domain.SessionPostProcessing:
		m.activeSessions.Set(0)
	}
}

// ObservePresence records an accepted presence transition.
func (m *Metrics) ObservePresence(state domain.PresenceState) {
	m.presenceChanges.WithLabelValues(string(state)).Inc()
}

// ObservePresenceSyncFailure records a failed best-effort backend sync.
func (m *Metrics) ObservePresenceSyncFailure() {
	m.presenceFailures.Inc()
}

// ObserveCallQuality records RTCP-derived quality figures for the active
// call.
func (m *Metrics) ObserveCallQuality(packetLoss float64, jitter, rtt time.Duration) {
	m.callPacketLoss.Set(packetLoss)
	m.callJitter.Set(jitter.Seconds())
	m.callRTT.Set(rtt.Seconds())
}
