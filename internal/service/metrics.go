package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the server's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	audit    *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	tokenOps *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		audit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmcs",
			Subsystem: "auth",
			Name:      "audit_events_total",
			Help:      "Audit events by type.",
		}, []string{"event"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmcs",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Refresh attempts by result.",
		}, []string{"result"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rmcs",
			Subsystem: "token",
			Name:      "operations_total",
			Help:      "TokenService calls by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.audit, m.refresh, m.tokenOps)
	return m
}

func (m *Metrics) recordAudit(event AuditEvent) {
	if m == nil {
		return
	}
	m.audit.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) recordRefresh(err error) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) recordTokenOp(op string, err error) {
	if m == nil {
		return
	}
	m.tokenOps.WithLabelValues(op, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
