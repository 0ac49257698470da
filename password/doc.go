// Package password implements administrator password hashing and verification
// with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Every hash carries its own random salt, so two hashes of the same plaintext
// never compare equal. Reuse detection must call [Argon2.Verify] against each
// retained hash.
//
// # Architecture boundaries
//
// This package owns hashing, verification and plaintext length bounds only.
// Reuse history is enforced by the credential store.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goAdmin package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
