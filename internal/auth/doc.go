// Package auth implements the token lifecycle at the heart of Session Core.
//
// It provides:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access tokens validated by signature alone (no storage hit)
//   - Opaque single-use refresh tokens stored as SHA-256 hashes with a
//     user snapshot, consumed atomically on rotation
//   - A credential verification waterfall (bypass identity, admin override
//     secret, configured admin, credential store) where every rejection
//     collapses to a single "invalid credentials" error
//   - A session facade: login, refresh with mandatory rotation, idempotent
//     logout, and stateless user resolution
//
// Refresh tokens are strictly single-use: a consume removes the record in
// the same statement that reads it, so concurrent presentations of the same
// token yield exactly one winner and replay of a spent token always fails.
package auth
