// Package rate provides a Redis-backed fixed-window rate limiter keyed by
// project and operation class.
//
// # Window semantics
//
// One counter per (project, operation): INCR plus PEXPIRE on the first hit
// of the window, all inside a single Lua script so concurrent callers never
// lose counts or race on the TTL. Throttled results carry the remaining
// window as a retry-after hint.
//
// # What this package must NOT do
//
//   - Decide which operations are limited or with what budgets (the Engine
//     resolves policies from project configuration).
//   - Be imported outside the tessera module.
package rate
