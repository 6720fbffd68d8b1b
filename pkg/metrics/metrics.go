package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Quotaholder metrics
	HoldingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_holdings_total",
			Help: "Total number of holder/source/resource holdings tracked",
		},
	)

	HoldingUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synnefo_holding_usage",
			Help: "Current usage (max) per holder and resource",
		},
		[]string{"holder", "resource"},
	)

	CommissionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_commissions_issued_total",
			Help: "Total number of commissions issued by client",
		},
		[]string{"client"},
	)

	CommissionsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_commissions_accepted_total",
			Help: "Total number of commissions accepted by client",
		},
		[]string{"client"},
	)

	CommissionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_commissions_rejected_total",
			Help: "Total number of commissions rejected by client",
		},
		[]string{"client"},
	)

	CommissionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_commissions_pending",
			Help: "Number of commissions currently pending resolution",
		},
	)

	QuotaExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_quota_exceeded_total",
			Help: "Total number of provisions rejected for exceeding quota, by resource",
		},
		[]string{"resource"},
	)

	// Object store metrics
	ObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synnefo_objects_total",
			Help: "Total number of live objects by cluster state",
		},
		[]string{"cluster"},
	)

	ContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_containers_total",
			Help: "Total number of containers",
		},
	)

	BlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_blocks_total",
			Help: "Total number of distinct blocks stored",
		},
	)

	BlockBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_block_bytes_total",
			Help: "Total bytes occupied by stored blocks",
		},
	)

	// Raft metrics, repurposed for the Quotaholder's own replicated cluster.
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_raft_is_leader",
			Help: "Whether this quotaholder node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_raft_peers_total",
			Help: "Total number of Raft peers in the quotaholder cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "synnefo_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_raft_apply_duration_seconds",
			Help:    "Time to apply a Raft log entry to the quota FSM",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_raft_commit_duration_seconds",
			Help:    "Time to commit a Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "synnefo_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Operation latency metrics
	PutBlockDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_put_block_duration_seconds",
			Help:    "Time to store a block",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdateObjectHashmapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_update_object_hashmap_duration_seconds",
			Help:    "Time to register a new object version from a hashmap",
			Buckets: prometheus.DefBuckets,
		},
	)

	IssueCommissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_issue_commission_duration_seconds",
			Help:    "Time to issue a commission against the quotaholder",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciliation metrics (Commission Coordinator sweep, spec §4.8)
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_reconciliation_duration_seconds",
			Help:    "Commission reconciliation cycle duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "synnefo_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciledCommissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synnefo_reconciled_commissions_total",
			Help: "Total number of dangling commissions resolved during reconciliation, by outcome",
		},
		[]string{"outcome"},
	)

	// Block-sweep metrics (pkg/blocksweep)
	BlockSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synnefo_block_sweep_duration_seconds",
			Help:    "Unreferenced block sweep cycle duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
	)

	BlockSweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "synnefo_block_sweep_cycles_total",
			Help: "Total number of block sweep cycles completed",
		},
	)

	BlocksSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "synnefo_blocks_swept_total",
			Help: "Total number of unreferenced blocks removed by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(HoldingsTotal)
	prometheus.MustRegister(HoldingUsage)
	prometheus.MustRegister(CommissionsIssuedTotal)
	prometheus.MustRegister(CommissionsAcceptedTotal)
	prometheus.MustRegister(CommissionsRejectedTotal)
	prometheus.MustRegister(CommissionsPending)
	prometheus.MustRegister(QuotaExceededTotal)

	prometheus.MustRegister(ObjectsTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(BlocksTotal)
	prometheus.MustRegister(BlockBytesTotal)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(PutBlockDuration)
	prometheus.MustRegister(UpdateObjectHashmapDuration)
	prometheus.MustRegister(IssueCommissionDuration)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciledCommissionsTotal)

	prometheus.MustRegister(BlockSweepDuration)
	prometheus.MustRegister(BlockSweepCyclesTotal)
	prometheus.MustRegister(BlocksSweptTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
