/*
Package metrics provides Prometheus metrics collection and exposition for the
Synnefo core services (quotaholder, storage façade, commission coordinator).

Metrics are defined and registered using the Prometheus client library,
giving observability into commission throughput, holding usage, object store
growth, reconciliation and block-sweep activity, and Raft cluster health.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

Quotaholder Metrics:

synnefo_holdings_total:
  - Type: Gauge
  - Description: Total number of holder/source/resource holdings tracked

synnefo_holding_usage{holder, resource}:
  - Type: Gauge
  - Description: Current usage (max) per holder and resource

synnefo_commissions_issued_total{client}:
  - Type: Counter
  - Description: Total commissions issued, by issuing client

synnefo_commissions_accepted_total{client}:
  - Type: Counter
  - Description: Total commissions accepted, by issuing client

synnefo_commissions_rejected_total{client}:
  - Type: Counter
  - Description: Total commissions rejected, by issuing client

synnefo_commissions_pending:
  - Type: Gauge
  - Description: Number of commissions awaiting accept/reject

synnefo_quota_exceeded_total{resource}:
  - Type: Counter
  - Description: Total provisions rejected for exceeding quota, by resource

Object Store Metrics:

synnefo_objects_total{cluster}:
  - Type: Gauge
  - Description: Total live objects by cluster state (normal/history/deleted)

synnefo_containers_total:
  - Type: Gauge
  - Description: Total number of containers

synnefo_blocks_total / synnefo_block_bytes_total:
  - Type: Gauge
  - Description: Total distinct blocks stored and bytes occupied

Raft Metrics (Quotaholder cluster):

synnefo_raft_is_leader, synnefo_raft_peers_total, synnefo_raft_log_index,
synnefo_raft_applied_index, synnefo_raft_apply_duration_seconds,
synnefo_raft_commit_duration_seconds:
  - Mirror the teacher's Raft instrumentation, scoped to the quotaholder's
    own replicated holdings/commissions FSM.

API Metrics:

synnefo_api_requests_total{method, status} / synnefo_api_request_duration_seconds{method}:
  - Type: Counter / Histogram
  - Description: Request count and latency across all HTTP/JSON endpoints

Operation Latency Metrics:

synnefo_put_block_duration_seconds, synnefo_update_object_hashmap_duration_seconds,
synnefo_issue_commission_duration_seconds:
  - Type: Histogram
  - Description: Latency of the hot-path write operations

Reconciliation Metrics:

synnefo_reconciliation_duration_seconds / synnefo_reconciliation_cycles_total /
synnefo_reconciled_commissions_total{outcome}:
  - Description: Commission Coordinator sweep duration, cycle count, and the
    accept/reject outcome of commissions it resolved on behalf of a crashed
    or slow client

Block Sweep Metrics:

synnefo_block_sweep_duration_seconds / synnefo_block_sweep_cycles_total /
synnefo_blocks_swept_total:
  - Description: Unreferenced block garbage collection sweep activity

# Usage

	import "github.com/synnefo-io/core/pkg/metrics"

	metrics.HoldingsTotal.Set(128)
	metrics.CommissionsIssuedTotal.WithLabelValues("pithos").Inc()

	timer := metrics.NewTimer()
	// ... issue commission ...
	timer.ObserveDuration(metrics.IssueCommissionDuration)

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Timer Pattern:
  - Create timer at operation start
  - Call ObserveDuration/ObserveDurationVec when the operation finishes
*/
package metrics
