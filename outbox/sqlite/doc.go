// Package sqlite provides a durable mail outbox for goAdmin notification
// intents, backed by modernc.org/sqlite.
//
// [Outbox] implements goAdmin.MailTransport. The engine hands it activation
// and reactivation intents; a separate delivery loop leases them, talks to
// the real mail service, and acknowledges with [Outbox.MarkDelivered] or
// returns them with [Outbox.Release]. Intents are keyed by their ID, so
// re-sending one is harmless.
package sqlite
