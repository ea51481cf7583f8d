// Package tessera provides a multi-tenant credential and token lifecycle
// engine: Argon2id password hashing, JWT access tokens, rotating opaque
// refresh tokens, single-use email-verification and password-reset tokens,
// and per-project fixed-window rate limiting.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// tessera is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([UserRepository], [ProjectProvider], [Mailer],
// [AuditSink]), and value types (TokenPair, ImportResult, MetricsSnapshot,
// etc.). All internal coordination (token storage, Lua consume scripts, rate
// limiting, audit dispatch) lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or key encodings in its public
//     API.
//   - Store or log a plaintext password, refresh secret, or side-channel
//     token beyond the single return value that delivers it to the caller.
//   - Let any lookup cross a project boundary: every record, token, and rate
//     bucket is keyed by project.
//
// # Performance contract
//
// VerifyAccessToken is the hot path: pure JWT signature verification with no
// Redis round-trip. Refresh, Login, and the side-channel confirmations are
// allowed one Redis script call each; bulk export and import are the only
// deliberately heavy operations.
package tessera
