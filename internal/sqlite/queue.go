package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/siteform/fieldsync/internal/domain/queue"
	"github.com/siteform/fieldsync/internal/repository"
)

// QueueRepository implements repository.QueueRepository for SQLite
type QueueRepository struct {
	db *DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue appends a record and returns its assigned sequence number. The
// insert has committed before this returns, so the record survives a crash.
func (r *QueueRepository) Enqueue(ctx context.Context, rec *queue.Record) (int64, error) {
	if rec.RecordID == "" || rec.Kind == "" || len(rec.Payload) == 0 {
		return 0, repository.ErrInvalidInput
	}

	query := `
		INSERT INTO queued_records (record_id, subject_id, kind, payload, author_id, captured_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.RecordID,
		rec.SubjectID,
		rec.Kind,
		string(rec.Payload),
		rec.AuthorID,
		rec.CapturedAt.UTC(),
		queue.StatusPending,
	)
	if err != nil {
		return 0, storageErr("enqueue record", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("read sequence id", err)
	}
	return seq, nil
}

// Pending returns unsynced records in ascending sequence order.
func (r *QueueRepository) Pending(ctx context.Context) ([]queue.Record, error) {
	query := `
		SELECT seq, record_id, subject_id, kind, payload, author_id, captured_at, status, failure_reason, synced_at
		FROM queued_records
		WHERE status = ?
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, queue.StatusPending)
	if err != nil {
		return nil, storageErr("scan pending records", err)
	}
	defer rows.Close()

	var records []queue.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan pending record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan pending records", err)
	}
	return records, nil
}

// MarkSynced flips a record to synced. Idempotent: an already-synced record
// is left untouched and no error is returned.
func (r *QueueRepository) MarkSynced(ctx context.Context, seq int64) error {
	query := `
		UPDATE queued_records
		SET status = ?, synced_at = ?, failure_reason = NULL
		WHERE seq = ? AND status != ?
	`

	result, err := r.db.ExecContext(ctx, query, queue.StatusSynced, time.Now().UTC(), seq, queue.StatusSynced)
	if err != nil {
		return storageErr("mark synced", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("mark synced", err)
	}
	if affected == 0 {
		return r.checkExists(ctx, seq)
	}
	return nil
}

// MarkFailed flags a pending record as terminally undeliverable. Synced is
// irreversible: marking a synced record failed is a no-op.
func (r *QueueRepository) MarkFailed(ctx context.Context, seq int64, reason string) error {
	query := `
		UPDATE queued_records
		SET status = ?, failure_reason = ?
		WHERE seq = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, queue.StatusFailed, reason, seq, queue.StatusPending)
	if err != nil {
		return storageErr("mark failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("mark failed", err)
	}
	if affected == 0 {
		return r.checkExists(ctx, seq)
	}
	return nil
}

// Counts reports totals per status.
func (r *QueueRepository) Counts(ctx context.Context) (queue.Counts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queued_records GROUP BY status`)
	if err != nil {
		return queue.Counts{}, storageErr("count records", err)
	}
	defer rows.Close()

	var counts queue.Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return queue.Counts{}, storageErr("count records", err)
		}
		switch queue.Status(status) {
		case queue.StatusPending:
			counts.Pending = n
		case queue.StatusSynced:
			counts.Synced = n
		case queue.StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return queue.Counts{}, storageErr("count records", err)
	}
	return counts, nil
}

func (r *QueueRepository) checkExists(ctx context.Context, seq int64) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM queued_records WHERE seq = ?)`, seq).Scan(&exists)
	if err != nil {
		return storageErr("check record", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return nil
}

func scanRecord(rows *sql.Rows) (queue.Record, error) {
	var rec queue.Record
	var payload string
	var reason sql.NullString
	var syncedAt sql.NullTime
	err := rows.Scan(
		&rec.Seq,
		&rec.RecordID,
		&rec.SubjectID,
		&rec.Kind,
		&payload,
		&rec.AuthorID,
		&rec.CapturedAt,
		&rec.Status,
		&reason,
		&syncedAt,
	)
	if err != nil {
		return queue.Record{}, err
	}
	rec.Payload = json.RawMessage(payload)
	if reason.Valid {
		rec.FailureReason = reason.String
	}
	if syncedAt.Valid {
		rec.SyncedAt = &syncedAt.Time
	}
	return rec, nil
}
