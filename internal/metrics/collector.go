package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "agentx"
	subsystem = "subagent"
)

// Label names.
const (
	labelPDUType   = "pdu_type"
	labelRoot      = "root"
	labelOutcome   = "outcome"
	labelErrStatus = "error_status"
)

// -------------------------------------------------------------------------
// Collector — Prometheus AgentX Subagent Metrics
// -------------------------------------------------------------------------

// Collector holds all agentx-subagentd Prometheus metrics.
//
//   - SessionState tracks the current session FSM state as a single gauge
//     with one active value.
//   - Reconnects counts connect cycles to the master, the first dial
//     included.
//   - PDUsSent/PDUsReceived are labeled by PDU type for protocol-level
//     visibility.
//   - SetTransactions counts two-phase SET outcomes (commit vs undo).
//   - RegionRefreshAge/RegionRefreshFailures track updater health per region.
//
// agentx/session and agentx/updater do not call SetRegionRefreshAge,
// IncRegionRefreshFailures or IncResponseErrors, so those series are
// populated only by code that calls them directly.
type Collector struct {
	// SessionState is 1 for the currently active state label, 0 otherwise.
	SessionState *prometheus.GaugeVec

	// Reconnects counts session (re)connect attempts to the master.
	Reconnects prometheus.Counter

	// PDUsSent counts PDUs transmitted to the master, labeled by type.
	PDUsSent *prometheus.CounterVec

	// PDUsReceived counts PDUs received from the master, labeled by type.
	PDUsReceived *prometheus.CounterVec

	// ResponseErrors counts non-zero res.error Response PDUs received,
	// labeled by error status name.
	ResponseErrors *prometheus.CounterVec

	// SetTransactions counts two-phase SET outcomes, labeled by
	// "committed" or "undone".
	SetTransactions *prometheus.CounterVec

	// RegionRefreshAge reports seconds since each region's last successful
	// updater refresh, labeled by root OID.
	RegionRefreshAge *prometheus.GaugeVec

	// RegionRefreshFailures counts failed Update() calls per region.
	RegionRefreshFailures *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionState,
		c.Reconnects,
		c.PDUsSent,
		c.PDUsReceived,
		c.ResponseErrors,
		c.SetTransactions,
		c.RegionRefreshAge,
		c.RegionRefreshFailures,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state",
			Help:      "Current session FSM state (1 for the active state, 0 otherwise), labeled by state name.",
		}, []string{"state"}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts to the master agent.",
		}),

		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_sent_total",
			Help:      "Total AgentX PDUs transmitted to the master, by PDU type.",
		}, []string{labelPDUType}),

		PDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_received_total",
			Help:      "Total AgentX PDUs received from the master, by PDU type.",
		}, []string{labelPDUType}),

		ResponseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "response_errors_total",
			Help:      "Total Response PDUs with a non-zero error status, by error status name.",
		}, []string{labelErrStatus}),

		SetTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "set_transactions_total",
			Help:      "Total two-phase SET transaction outcomes, by outcome (committed, undone).",
		}, []string{labelOutcome}),

		RegionRefreshAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "region_refresh_age_seconds",
			Help:      "Seconds since the region's last successful updater snapshot refresh.",
		}, []string{labelRoot}),

		RegionRefreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "region_refresh_failures_total",
			Help:      "Total failed updater refresh calls, by region root OID.",
		}, []string{labelRoot}),
	}
}

// -------------------------------------------------------------------------
// Session State
// -------------------------------------------------------------------------

// sessionStates lists every FSM state name SetSessionState clears before
// setting the current one, so stale 1s never linger on a prior state.
// Matches agentx/session.State.String().
var sessionStates = []string{
	"Disconnected", "Connecting", "Open", "Registered", "Active", "Closing",
}

// SetSessionState sets the gauge for state to 1 and every other known state
// to 0. Called on every session FSM transition.
func (c *Collector) SetSessionState(state string) {
	for _, s := range sessionStates {
		if s == state {
			c.SessionState.WithLabelValues(s).Set(1)
		} else {
			c.SessionState.WithLabelValues(s).Set(0)
		}
	}
}

// IncReconnects increments the reconnect counter. Called at the start of
// every connect cycle of the session loop, including the first dial.
func (c *Collector) IncReconnects() {
	c.Reconnects.Inc()
}

// -------------------------------------------------------------------------
// PDU Counters
// -------------------------------------------------------------------------

// IncPDUsSent increments the sent-PDU counter for the given PDU type name.
func (c *Collector) IncPDUsSent(pduType string) {
	c.PDUsSent.WithLabelValues(pduType).Inc()
}

// IncPDUsReceived increments the received-PDU counter for the given PDU
// type name.
func (c *Collector) IncPDUsReceived(pduType string) {
	c.PDUsReceived.WithLabelValues(pduType).Inc()
}

// IncResponseErrors increments the Response-error counter for the given
// error status name (e.g., "parseError", "duplicateRegistration").
func (c *Collector) IncResponseErrors(errStatus string) {
	c.ResponseErrors.WithLabelValues(errStatus).Inc()
}

// -------------------------------------------------------------------------
// SET Transactions
// -------------------------------------------------------------------------

// IncSetCommitted increments the committed-SET-transaction counter.
func (c *Collector) IncSetCommitted() {
	c.SetTransactions.WithLabelValues("committed").Inc()
}

// IncSetUndone increments the undone-SET-transaction counter.
func (c *Collector) IncSetUndone() {
	c.SetTransactions.WithLabelValues("undone").Inc()
}

// -------------------------------------------------------------------------
// Region Updaters
// -------------------------------------------------------------------------

// SetRegionRefreshAge reports seconds since root's last successful updater
// refresh.
func (c *Collector) SetRegionRefreshAge(root string, seconds float64) {
	c.RegionRefreshAge.WithLabelValues(root).Set(seconds)
}

// IncRegionRefreshFailures increments the refresh-failure counter for root.
func (c *Collector) IncRegionRefreshFailures(root string) {
	c.RegionRefreshFailures.WithLabelValues(root).Inc()
}
