package issuer

import (
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the issuer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CardsIssued    prometheus.Counter
	IssueConflicts prometheus.Counter
	IssueFailures  *prometheus.CounterVec
	StatusUpdates  *prometheus.CounterVec
	CardsDeleted   *prometheus.CounterVec
	CacheRequests  *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CardsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "cardflow_cards_issued_total",
			Help: "Total number of cards issued",
		}),
		IssueConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "cardflow_issue_conflicts_total",
			Help: "Card number collisions hit during issuance",
		}),
		IssueFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardflow_issue_failures_total",
			Help: "Failed issuance attempts by reason",
		}, []string{"reason"}),
		StatusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardflow_status_updates_total",
			Help: "Card status updates by new status",
		}, []string{"status"}),
		CardsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardflow_cards_deleted_total",
			Help: "Deleted cards by deletion scope",
		}, []string{"scope"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardflow_card_cache_requests_total",
			Help: "Card cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) issued() {
	if m != nil {
		m.CardsIssued.Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.IssueConflicts.Inc()
	}
}

func (m *Metrics) issueFailed(reason string) {
	if m != nil {
		m.IssueFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) statusUpdated(status string) {
	if m == nil {
		return
	}
	// statuses are free-form; keep label cardinality bounded
	switch status {
	case models.StatusActive, models.StatusBlocked:
	default:
		status = "other"
	}
	m.StatusUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) deleted(scope string, n int) {
	if m != nil {
		m.CardsDeleted.WithLabelValues(scope).Add(float64(n))
	}
}

func (m *Metrics) cache(result string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(result).Inc()
	}
}
