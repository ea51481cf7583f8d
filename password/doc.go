// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The encoding is self-describing: verification re-derives the key with the
// parameters stored in the hash, so no external cost lookup is needed and
// parameter upgrades never break existing credentials. [Hasher.NeedsRehash]
// reports when a stored hash should be re-derived on the next successful
// login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length
// rules beyond the derivation minimum, reuse history) is enforced by the
// Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other tessera package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
