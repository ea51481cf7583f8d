// Package stores provides Redis-backed record stores for stateful tokens:
// rotating refresh tokens and single-use side-channel (email verification and
// password reset) tokens.
//
// # Design
//
// Each record is a Redis hash keyed by project plus token identifier, with a
// TTL. Consumption runs as a single Lua script so that concurrent redemption
// of the same token yields exactly one winner; every other caller observes a
// distinct terminal status (not found, reused, expired, purpose mismatch).
// Used records are retained until natural expiry so that replay of a consumed
// token stays distinguishable from garbage input.
//
// # Architecture boundaries
//
// This package owns persistence and the atomic consume step. Token
// generation, rotation policy, and chain revocation decisions belong to the
// Engine.
//
// # What this package must NOT do
//
//   - Import tessera or any sibling internal package.
//   - Store token plaintext. Callers supply hashes only.
//   - Make authentication decisions.
package stores
