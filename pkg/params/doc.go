// Package params provides the durable parameter store for HuginBot.
// It keeps the active world snapshot, per-guild default worlds, join
// codes, webhook bindings, and stop-notice watermarks in SQLite with
// WAL mode, last-write-wins semantics, and optional sealing of
// sensitive values at rest.
package params
