package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	goAdmin "github.com/MrEthical07/goAdmin"
	"github.com/MrEthical07/goAdmin/internal"
	"github.com/MrEthical07/goAdmin/outbox/sqlite/migrations"
	_ "modernc.org/sqlite"
)

var (
	// ErrLeaseLost is returned when a message is acknowledged by a worker
	// that no longer holds its lease.
	ErrLeaseLost = errors.New("outbox lease lost")
	// ErrNotConfigured is returned by methods on a nil or closed Outbox.
	ErrNotConfigured = errors.New("outbox is not configured")
)

// Message is one leased notification intent.
type Message struct {
	Intent     goAdmin.NotificationIntent
	Attempts   int
	LastError  string
	LeaseUntil time.Time
}

// Options tunes an Outbox. The zero value is usable.
type Options struct {
	// Now overrides time.Now for enqueue and lease timestamps.
	Now func() time.Time
}

// Outbox is a durable goAdmin.MailTransport. Send only records the intent;
// delivery workers Lease pending intents, hand them to the real mailer and
// call MarkDelivered or Release.
type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the outbox database at path and applies migrations.
func Open(ctx context.Context, path string, opts Options) (*Outbox, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Leases are read-then-update; one connection keeps them serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Outbox{db: db, now: now}, nil
}

// Close releases the database handle.
func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Send records intent for later delivery. Sending an intent whose ID is
// already recorded is a no-op, so retries by the caller never duplicate mail.
func (o *Outbox) Send(ctx context.Context, intent goAdmin.NotificationIntent) error {
	if o == nil || o.db == nil {
		return ErrNotConfigured
	}
	if intent.Recipient == "" || intent.Kind == "" {
		return fmt.Errorf("outbox: intent requires kind and recipient")
	}

	now := o.now().UTC()
	if intent.ID == "" {
		intent.ID = internal.NewSortableID(now)
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}

	_, err := o.db.ExecContext(ctx, `
INSERT OR IGNORE INTO mail_outbox (
	id,
	kind,
	user_id,
	recipient,
	name,
	artifact,
	created_at,
	enqueued_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		intent.ID,
		string(intent.Kind),
		intent.UserID,
		intent.Recipient,
		intent.Name,
		intent.Artifact,
		intent.CreatedAt.UTC().UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue intent: %w", err)
	}
	return nil
}

// Lease claims up to limit undelivered intents whose lease is free or
// expired, oldest first, and holds them for owner until leaseFor elapses.
func (o *Outbox) Lease(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]Message, error) {
	if o == nil || o.db == nil {
		return nil, ErrNotConfigured
	}
	if owner == "" {
		return nil, fmt.Errorf("lease owner is required")
	}
	if limit <= 0 || leaseFor <= 0 {
		return nil, fmt.Errorf("lease limit and duration must be greater than zero")
	}

	now := o.now().UTC()
	until := now.Add(leaseFor)

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT
	id,
	kind,
	user_id,
	recipient,
	name,
	artifact,
	created_at,
	attempts,
	last_error
FROM mail_outbox
WHERE delivered_at IS NULL AND lease_until <= ?
ORDER BY id
LIMIT ?
`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg       Message
			kind      string
			createdAt int64
		)
		if err := rows.Scan(
			&msg.Intent.ID,
			&kind,
			&msg.Intent.UserID,
			&msg.Intent.Recipient,
			&msg.Intent.Name,
			&msg.Intent.Artifact,
			&createdAt,
			&msg.Attempts,
			&msg.LastError,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		msg.Intent.Kind = goAdmin.IntentKind(kind)
		msg.Intent.CreatedAt = time.UnixMilli(createdAt).UTC()
		msg.Attempts++
		msg.LeaseUntil = until
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	_ = rows.Close()

	for _, msg := range messages {
		if _, err := tx.ExecContext(ctx, `
UPDATE mail_outbox
SET lease_owner = ?, lease_until = ?, attempts = attempts + 1
WHERE id = ?
`, owner, until.UnixMilli(), msg.Intent.ID); err != nil {
			return nil, fmt.Errorf("lease %s: %w", msg.Intent.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}
	return messages, nil
}

// MarkDelivered acknowledges a leased intent. It fails with ErrLeaseLost if
// owner's lease has expired or was taken over.
func (o *Outbox) MarkDelivered(ctx context.Context, id, owner string) error {
	if o == nil || o.db == nil {
		return ErrNotConfigured
	}

	now := o.now().UTC().UnixMilli()
	res, err := o.db.ExecContext(ctx, `
UPDATE mail_outbox
SET delivered_at = ?, lease_owner = '', lease_until = 0
WHERE id = ? AND lease_owner = ? AND lease_until > ? AND delivered_at IS NULL
`, now, id, owner, now)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return requireOneRow(res)
}

// Release gives a leased intent back to the queue, recording why delivery
// failed. The intent is immediately eligible for another lease.
func (o *Outbox) Release(ctx context.Context, id, owner string, cause error) error {
	if o == nil || o.db == nil {
		return ErrNotConfigured
	}

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	res, err := o.db.ExecContext(ctx, `
UPDATE mail_outbox
SET lease_owner = '', lease_until = 0, last_error = ?
WHERE id = ? AND lease_owner = ? AND delivered_at IS NULL
`, lastError, id, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return requireOneRow(res)
}

// Pending reports how many intents are not yet delivered.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	if o == nil || o.db == nil {
		return 0, ErrNotConfigured
	}

	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mail_outbox WHERE delivered_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

var _ goAdmin.MailTransport = (*Outbox)(nil)
