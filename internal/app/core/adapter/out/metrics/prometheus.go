package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// Prometheus 交易引擎的 Prometheus 指標
type Prometheus struct {
	postings            *prometheus.CounterVec
	postingDuration     *prometheus.HistogramVec
	optimisticConflicts prometheus.Counter
}

// NewPrometheus 將指標註冊到 reg，reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		postings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_postings_total",
				Help: "Total number of posting requests by transaction type and outcome",
			},
			[]string{"transaction_type", "outcome"},
		),
		postingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_posting_duration_seconds",
				Help:    "Duration of committed postings",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"transaction_type"},
		),
		optimisticConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_optimistic_conflicts_total",
				Help: "Total number of optimistic version conflicts on the system account",
			},
		),
	}
}

func (p *Prometheus) PostingCompleted(txType domain.TransactionType, elapsed time.Duration) {
	p.postings.WithLabelValues(string(txType), "completed").Inc()
	p.postingDuration.WithLabelValues(string(txType)).Observe(elapsed.Seconds())
}

// PostingFailed reason 為有限集合 (insufficient_balance、not_found ...)，避免 label 爆量
func (p *Prometheus) PostingFailed(txType domain.TransactionType, reason string) {
	p.postings.WithLabelValues(string(txType), reason).Inc()
}

func (p *Prometheus) PostingReplayed(txType domain.TransactionType) {
	p.postings.WithLabelValues(string(txType), "replayed").Inc()
}

func (p *Prometheus) OptimisticConflict() {
	p.optimisticConflicts.Inc()
}
