// Package metrics holds the Prometheus collectors of the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "course_ledger"

type Metrics struct {
	Settlements     *prometheus.CounterVec
	GrantRetries    prometheus.Counter
	Reconciliations prometheus.Counter
	PayoutDecisions *prometheus.CounterVec
	BatchGroups     prometheus.Counter
	Denials         prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement state changes by resulting status.",
		}, []string{"status"}),
		GrantRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_grant_retries_total",
			Help:      "Retried entitlement grants after a completed payment.",
		}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_required_total",
			Help:      "Payments completed without the matching access grant.",
		}),
		PayoutDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_decisions_total",
			Help:      "Payout requests decided, by decision.",
		}, []string{"decision"}),
		BatchGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_groups_committed_total",
			Help:      "Atomic groups committed by the batch coordinator.",
		}),
		Denials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denials_total",
			Help:      "Requests rejected by the role guard.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.Settlements,
		m.GrantRetries,
		m.Reconciliations,
		m.PayoutDecisions,
		m.BatchGroups,
		m.Denials,
		m.HTTPRequests,
	)
	return m
}

// Nop returns collectors that are not registered anywhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
