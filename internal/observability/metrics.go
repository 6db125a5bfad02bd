package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks store and index activity.
type Metrics struct {
	Commits       *prometheus.CounterVec
	Conflicts     *prometheus.CounterVec
	IndexOps      *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	JournalFolds  prometheus.Counter
	QueryDuration prometheus.Histogram
}

// NewMetrics builds and registers the collectors on the given registry.
// Pass prometheus.NewRegistry() in tests to avoid default-registry
// collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketstore_commits_total",
			Help: "Journal commits, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketstore_commit_conflicts_total",
			Help: "Lost compare-and-swap races, by backend.",
		}, []string{"backend"}),
		IndexOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketstore_index_operations_total",
			Help: "Search index operations, by kind.",
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketstore_cache_hits_total",
			Help: "Ticket snapshot cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketstore_cache_misses_total",
			Help: "Ticket snapshot cache misses.",
		}),
		JournalFolds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketstore_journal_folds_total",
			Help: "Journals folded into snapshots.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketstore_query_duration_seconds",
			Help:    "Search query latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Commits, m.Conflicts, m.IndexOps,
			m.CacheHits, m.CacheMisses, m.JournalFolds, m.QueryDuration,
		)
	}
	return m
}
