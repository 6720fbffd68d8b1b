// Package reconciler drives the Commission Coordinator's periodic
// reconciliation sweep (spec §4.8): on a fixed interval it compares the
// coordinator's local log of outstanding commission serials against the
// Quotaholder's own get_pending_commissions, resolving any commission the
// coordinator still believes is pending but the Quotaholder has already
// settled, and rejecting any the Quotaholder still considers pending with no
// local record (a mutation stuck mid-flight), counted under the
// dangling_remote outcome.
package reconciler
