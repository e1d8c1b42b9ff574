package repo

import (
	"context"
	"database/sql"
	"fmt"

	"farehop/internal/domain"
)

// Pending write queue. Rows are ordered by an explicit ordinal so that a
// requeue can place failed entries ahead of anything enqueued mid-drain:
// appends grow the ordinal upward, requeues grow it downward from the current
// minimum.

// Enqueue appends an entry at the queue tail. The row is committed before
// Enqueue returns; a persistence failure surfaces as an error rather than a
// silently dropped write.
func (r Repo) Enqueue(ctx context.Context, e domain.PendingEntry) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO pending_queue(ordinal,temp_id,kind,payload_json,enqueued_at,attempts)
		 SELECT COALESCE(MAX(ordinal),0)+1, ?, ?, ?, ?, ? FROM pending_queue`,
		e.TempID, e.Kind, e.Payload, e.EnqueuedAt, e.Attempts)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", e.TempID, err)
	}
	return nil
}

// Drain returns a snapshot of the queue in submission order and clears it in
// the same transaction. The swap is atomic: an enqueue racing with a drain
// either lands before the snapshot (and is included) or after the delete (and
// stays queued). Clearing before the send is the at-most-once guard — a second
// drain triggered mid-flight sees an empty queue.
func (r Repo) Drain(ctx context.Context) ([]domain.PendingEntry, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entries, err := scanEntries(tx.QueryContext(ctx,
		`SELECT temp_id,kind,payload_json,enqueued_at,attempts FROM pending_queue ORDER BY ordinal`))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_queue`); err != nil {
		return nil, fmt.Errorf("clear queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Requeue prepends entries ahead of the current queue head, preserving their
// relative order. Used for retryable sync failures.
func (r Repo) Requeue(ctx context.Context, entries []domain.PendingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var min sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MIN(ordinal) FROM pending_queue`).Scan(&min); err != nil {
		return err
	}
	base := int64(1)
	if min.Valid {
		base = min.Int64
	}
	base -= int64(len(entries))
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_queue(ordinal,temp_id,kind,payload_json,enqueued_at,attempts) VALUES (?,?,?,?,?,?)`,
			base+int64(i), e.TempID, e.Kind, e.Payload, e.EnqueuedAt, e.Attempts); err != nil {
			return fmt.Errorf("requeue %s: %w", e.TempID, err)
		}
	}
	return tx.Commit()
}

// PendingEntries returns the queue contents without clearing them.
func (r Repo) PendingEntries(ctx context.Context) ([]domain.PendingEntry, error) {
	return scanEntries(r.DB.QueryContext(ctx,
		`SELECT temp_id,kind,payload_json,enqueued_at,attempts FROM pending_queue ORDER BY ordinal`))
}

func (r Repo) QueueLen(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_queue`).Scan(&n)
	return n, err
}

func scanEntries(rows *sql.Rows, err error) ([]domain.PendingEntry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingEntry
	for rows.Next() {
		var e domain.PendingEntry
		if err := rows.Scan(&e.TempID, &e.Kind, &e.Payload, &e.EnqueuedAt, &e.Attempts); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
