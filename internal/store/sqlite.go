// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			owner_name      TEXT NOT NULL DEFAULT '',
			room_id         TEXT NOT NULL DEFAULT '',
			service         TEXT NOT NULL DEFAULT '',
			package_group   TEXT NOT NULL DEFAULT '',
			package_qty     TEXT NOT NULL DEFAULT '',
			price           TEXT NOT NULL DEFAULT '',
			target          TEXT NOT NULL DEFAULT '',
			content_kind    TEXT NOT NULL DEFAULT 'order',
			media_ref       TEXT NOT NULL DEFAULT '',
			caption         TEXT NOT NULL DEFAULT '',
			payment_method  TEXT NOT NULL DEFAULT '',
			payment_proof   TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			moderation_note TEXT NOT NULL DEFAULT '',
			delivery_outcome TEXT NOT NULL DEFAULT '',
			scheduled_at    TEXT,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_status_scheduled
			ON records(status, scheduled_at);

		CREATE INDEX IF NOT EXISTS idx_records_owner_created
			ON records(owner_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, owner_id, owner_name, room_id, service, package_group,
	package_qty, price, target, content_kind, media_ref, caption,
	payment_method, payment_proof, status, moderation_note, delivery_outcome, scheduled_at, created_at`

// CreateRecord inserts a new record.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var scheduled any
	if rec.ScheduledAt != nil {
		scheduled = rec.ScheduledAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.OwnerID,
		rec.OwnerName,
		rec.RoomID,
		rec.Service,
		rec.PackageGroup,
		rec.PackageQty,
		rec.Price,
		rec.Target,
		rec.ContentKind,
		rec.MediaRef,
		rec.Caption,
		rec.PaymentMethod,
		rec.PaymentProof,
		string(rec.Status),
		rec.ModerationNote,
		rec.DeliveryOutcome,
		scheduled,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting record: %w", err)
	}

	s.logger.Debug("created record",
		"id", rec.ID,
		"owner", rec.OwnerID,
		"status", rec.Status,
	)
	return nil
}

// GetRecord returns the record with the given ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// updatableFields maps the field names callers may update to their
// columns. Everything else (id, owner, created_at) is immutable.
var updatableFields = map[string]bool{
	"owner_name":       true,
	"target":           true,
	"content_kind":     true,
	"media_ref":        true,
	"caption":          true,
	"payment_method":   true,
	"payment_proof":    true,
	"status":           true,
	"moderation_note":  true,
	"delivery_outcome": true,
	"scheduled_at":     true,
}

// UpdateRecordFields applies a partial mutation in a single UPDATE.
func (s *SQLiteStore) UpdateRecordFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	// Stable order keeps queries deterministic for logs and tests.
	names := make([]string, 0, len(fields))
	for name := range fields {
		if !updatableFields[name] {
			return fmt.Errorf("field %q is not updatable", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		sets = append(sets, name+" = ?")
		val := fields[name]
		switch v := val.(type) {
		case Status:
			val = string(v)
		case time.Time:
			val = v.UTC().Format(time.RFC3339)
		case *time.Time:
			if v == nil {
				val = nil
			} else {
				val = v.UTC().Format(time.RFC3339)
			}
		}
		args = append(args, val)
	}
	args = append(args, id)

	query := "UPDATE records SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated record", "id", id, "fields", names)
	return nil
}

// ListPending returns records awaiting moderation, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + ` FROM records
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListDue returns approved records that are due at the given time:
// either unscheduled, or scheduled at or before now.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + ` FROM records
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query,
		string(StatusApproved), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("listing due records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountSince counts records an owner created at or after since.
func (s *SQLiteStore) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM records WHERE owner_id = ? AND created_at >= ?`
	var count int
	err := s.db.QueryRowContext(ctx, query,
		ownerID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

// ListByOwner returns an owner's records, newest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + ` FROM records
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing owner records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// StatusCounts returns the number of records per status.
func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for record scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var status, createdAt string
	var scheduledAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.OwnerName,
		&rec.RoomID,
		&rec.Service,
		&rec.PackageGroup,
		&rec.PackageQty,
		&rec.Price,
		&rec.Target,
		&rec.ContentKind,
		&rec.MediaRef,
		&rec.Caption,
		&rec.PaymentMethod,
		&rec.PaymentProof,
		&status,
		&rec.ModerationNote,
		&rec.DeliveryOutcome,
		&scheduledAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if scheduledAt.Valid {
		t, err := time.Parse(time.RFC3339, scheduledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing scheduled_at: %w", err)
		}
		rec.ScheduledAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
