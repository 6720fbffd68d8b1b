// Package quota implements the Quotaholder (spec §4.6): a Raft-replicated
// transactional resource-accounting service arbitrating holdings, issuing
// and resolving two-phase commissions, and serving quota reconciliation.
//
// The storage layer (Store/BoltStore) is grounded on the teacher's
// pkg/storage store.go/boltdb.go bucket-per-entity pattern; the replication
// layer (FSM, Manager) is grounded on pkg/manager/{fsm.go,manager.go}'s
// tagged-Command/raft.NewRaft/raft-boltdb log+stable store wiring.
package quota
