// Package token implements stateless signed access tokens.
//
// # Token format
//
// JWTs with a minimal claim set: pid (project), uid (user), plus the
// registered iat/exp/iss/aud claims. HS256 and Ed25519 signatures are
// supported; the signing key is per-deployment, not per-project.
//
// # Architecture boundaries
//
// This package owns minting and validation of access tokens only. Refresh
// tokens are opaque and stateful and live in internal/stores. Validation is
// pure: signature and time checks, no storage round-trips.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import tessera or any sibling package.
//   - Carry profile data or permissions in claims.
package token
