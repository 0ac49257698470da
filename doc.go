// Package goAdmin manages the credential lifecycle of administrative users:
// account creation with case-insensitive identity resolution, password
// storage with reuse history, single-use password reset tokens, activation
// notices and access tokens that carry a passwordChanged stamp.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goAdmin is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types such as [AdminUser] and [AccessToken].
// Redis layouts, record codecs and token encodings live under internal/
// and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores or encoding details in its public API.
//   - Deliver mail itself. It decides that a notice is due and what it
//     carries, then hands a [NotificationIntent] to a [MailTransport].
//   - Cache passwordChanged. Every read goes to the credential store.
//   - Import any sub-package that re-imports goAdmin.
package goAdmin
