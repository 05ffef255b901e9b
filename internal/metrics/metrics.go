// Package metrics exposes the server's Prometheus instrumentation. All
// methods are safe on a nil receiver so tests can run without registering
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wesfu/wesfu/internal/app"
)

type Metrics struct {
	DatagramsReceived  prometheus.Counter
	DatagramsForwarded prometheus.Counter
	DatagramsDropped   *prometheus.CounterVec

	CommandsProcessed *prometheus.CounterVec

	ActiveSessions prometheus.GaugeFunc
	ActiveRooms    prometheus.GaugeFunc
}

// New registers all collectors against the default registerer. Call it once
// per process.
func New(reg *app.Registry) *Metrics {
	return &Metrics{
		DatagramsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wesfu_media_datagrams_received_total",
			Help: "Total media datagrams received on the UDP socket",
		}),
		DatagramsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wesfu_media_datagrams_forwarded_total",
			Help: "Total media datagrams forwarded to room peers",
		}),
		DatagramsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wesfu_media_datagrams_dropped_total",
			Help: "Total media datagrams dropped, by reason",
		}, []string{"reason"}),
		CommandsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wesfu_control_commands_total",
			Help: "Total control commands processed, by command",
		}, []string{"command"}),
		ActiveSessions: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wesfu_active_sessions",
			Help: "Currently registered sessions",
		}, func() float64 {
			sessions, _ := reg.Counts()
			return float64(sessions)
		}),
		ActiveRooms: promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wesfu_active_rooms",
			Help: "Currently live rooms",
		}, func() float64 {
			_, rooms := reg.Counts()
			return float64(rooms)
		}),
	}
}

// Drop reasons for DatagramsDropped.
const (
	DropMalformed = "malformed"
	DropUnknown   = "unknown_session"
	DropStale     = "stale"
)

func (m *Metrics) RecordDatagramReceived() {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
}

func (m *Metrics) RecordDatagramsForwarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DatagramsForwarded.Add(float64(n))
}

func (m *Metrics) RecordDatagramDropped(reason string) {
	if m == nil {
		return
	}
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCommand(name string) {
	if m == nil {
		return
	}
	m.CommandsProcessed.WithLabelValues(name).Inc()
}
