// Package store provides the shared key-value backends used by the
// admission-control layer.
//
// Every quota counter and sliding window lives behind the Store interface so
// that several gateway instances can share one view of usage. Three adapters
// are provided:
//
//   - MemoryStore: process-local maps guarded by a mutex, for single-instance
//     deployments and tests
//   - RedisStore: sorted sets and counters in Redis, for multi-instance
//     deployments
//   - SQLiteStore: a WAL-mode SQLite database, for single-host deployments
//     that want quota state to survive restarts
//
// # Error Model
//
// Adapters wrap every backend failure in *Error, which matches
// ErrUnavailable under errors.Is. Callers in the quota package use that to
// apply the fail-open policy: an unreachable store never rejects a request.
//
// # Expiry
//
// Counters and windows carry a TTL. Redis expires keys natively. The memory
// and SQLite adapters treat expired entries as absent on read and reclaim
// them through Sweep, which a Janitor runs on a cron schedule.
package store
