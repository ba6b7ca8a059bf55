// Package session provides the per-thread single-writer guarantee.
//
// Every operation that reads, advances and persists a thread runs inside
// Manager.WithLock, so two requests for the same thread never interleave.
// Locks are held per thread ID in process and, optionally, through a
// ports.DistributedLocker when several replicas share one store.
package session
