// Package store implements the durable on-device cache of domain
// entities. It is the only component that touches persisted entity state
// directly.
//
// The repository is bound to a dbx.DBTX, so the coordinator can run an
// entity write and the matching queue write inside one transaction; a
// crash between the two is impossible to observe.
//
// Storage failures are a distinct error class from sync failures: they
// wrap ErrStorage, are reported and never retried.
package store
