// Package metrics defines the prometheus instruments for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full instrument set, registered against a private
// registry so tests can create isolated instances.
type Metrics struct {
	Passes          prometheus.Counter
	PassFailures    prometheus.Counter
	RoomsReconciled prometheus.Counter
	RoomsSkipped    prometheus.Counter
	Writes          *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	RoomTemperature *prometheus.GaugeVec
}

// New creates and registers the bridge metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunesync_passes_total",
			Help: "Completed reconciliation passes.",
		}),
		PassFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunesync_pass_failures_total",
			Help: "Reconciliation passes that aborted at the pass boundary.",
		}),
		RoomsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunesync_rooms_reconciled_total",
			Help: "Rooms whose state was written to the target system.",
		}),
		RoomsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunesync_rooms_skipped_total",
			Help: "Rooms skipped because their desired state was unchanged.",
		}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesync_writes_total",
			Help: "Setpoint writes issued to the target system.",
		}, []string{"room"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesync_write_errors_total",
			Help: "Failed setpoint writes.",
		}, []string{"room"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesync_fetch_errors_total",
			Help: "Failed source snapshot fetches.",
		}, []string{"room"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesync_token_refreshes_total",
			Help: "Bearer token acquisitions per backend.",
		}, []string{"system"}),
		RoomTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunesync_room_temperature_celsius",
			Help: "Current room temperature as reported by the source system.",
		}, []string{"room"}),
	}
	reg.MustRegister(
		m.Passes,
		m.PassFailures,
		m.RoomsReconciled,
		m.RoomsSkipped,
		m.Writes,
		m.WriteErrors,
		m.FetchErrors,
		m.TokenRefreshes,
		m.RoomTemperature,
	)
	return m
}
