// Package stores provides the Redis-backed persistence behind the admin
// engine: identity indices, credentials with reuse history, admin profiles,
// organizations and single-use reset and activation tokens.
//
// # Design
//
// Credential and reset-token records are versioned and binary-encoded;
// profiles and organizations are JSON because they carry free-form
// properties. Every read-modify-write uses a WATCH/MULTI optimistic
// transaction with bounded retries and reports ErrContention when it keeps
// losing. Token secrets are stored as SHA-256 digests and compared in
// constant time.
//
// # Key layout
//
//	<prefix>:ix:name:<lower>   username index
//	<prefix>:ix:email:<lower>  email index
//	<prefix>:ix:org:<lower>    organization name index
//	<prefix>:u:<id>            admin profile (JSON)
//	<prefix>:c:<id>            credential record (binary)
//	<prefix>:o:<id>            organization (JSON)
//	<prefix>:om:<org>          organization members (set)
//	<prefix>:uo:<id>           organizations of an admin (set)
//	<prefix>:rt:<reset id>     reset token (binary)
//	<prefix>:rtu:<id>          reset IDs issued to an admin (set)
//	<prefix>:act:<token>       activation token
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does not mint
// tokens, resolve history size from organization policy, or map errors to
// the public taxonomy; the Engine does.
//
// # What this package must NOT do
//
//   - Import goAdmin or any sibling internal package.
//   - Log or expose plaintext passwords or token secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
