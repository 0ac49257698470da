// Package internal holds goAdmin's private token and identifier helpers.
//
// Bearer tokens are base64url(16-byte id ‖ 32-byte secret); only the id and
// a SHA-256 digest of the secret are ever persisted. Sortable IDs are ULIDs
// with monotonic entropy, used for notification intents.
//
// # Sub-packages
//
//   - stores: Redis-backed identity index, credentials, admin records,
//     organizations, reset and activation tokens
package internal
