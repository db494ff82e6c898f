package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var chargerConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "charger_connections_active",
	Help:      "Number of connected chargers",
})

var dashboardConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "dashboard_connections_active",
	Help:      "Number of connected dashboards",
})

var activeTransactionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "transactions_active",
	Help:      "Number of active charging transactions",
})

var dlbTargetGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "dlb",
	Name:      "target_amps",
	Help:      "Last computed target charging current per charger.",
}, []string{"charger_id"})

var stopOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stop",
	Name:      "sequence_outcomes_total",
	Help:      "Stop sequence outcomes by result.",
}, []string{"outcome"})

var sessionsSavedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sessions",
	Name:      "saved_total",
	Help:      "Total number of persisted charging sessions.",
})

func ObserveChargerConnections(count int) {
	chargerConnectionsGauge.Set(float64(count))
}

func ObserveDashboardConnections(count int) {
	dashboardConnectionsGauge.Set(float64(count))
}

func ObserveTransactions(count int) {
	activeTransactionsGauge.Set(float64(count))
}

func SetDlbTarget(chargerId string, amps float64) {
	if len(chargerId) == 0 {
		return
	}
	dlbTargetGauge.With(prometheus.Labels{"charger_id": chargerId}).Set(amps)
}

func ObserveStopOutcome(outcome string) {
	if len(outcome) == 0 {
		return
	}
	stopOutcomeCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func ObserveSessionSaved() {
	sessionsSavedCounter.Inc()
}
