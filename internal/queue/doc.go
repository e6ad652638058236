// Package queue implements the durable pending-action log: an ordered
// record of every local mutation not yet confirmed by the server.
//
// Persistence is the engine's primary correctness property — an app
// restart must not lose pending work, and must not reset any action's
// retry budget.
//
// The queue enforces the coalescing invariant: at most one active
// create/update action per target entity. A new mutation against an
// entity with an outstanding action folds into that action instead of
// appending a second one, which bounds queue growth and guarantees FIFO
// ordering per entity.
package queue
