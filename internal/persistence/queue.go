package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskflow/internal/queue"
	"github.com/google/uuid"
)

const queueColumns = `id, task_id, agent_id, priority, status, scheduled_for, attempts,
	max_attempts, last_error, created_at, updated_at`

var _ queue.Store = (*SQLiteStore)(nil)

// InsertQueueEntry inserts e unless the task already has an entry. The
// UNIQUE(task_id) constraint makes concurrent inserts race safely.
func (s *SQLiteStore) InsertQueueEntry(ctx context.Context, e *queue.Entry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING
	`, e.ID, e.TaskID, e.AgentID, e.Priority, e.Status, nullableTime(e.ScheduledFor), e.Attempts,
		e.MaxAttempts, e.LastError, unixNano(e.CreatedAt), unixNano(e.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetQueueEntry returns the entry of a task.
func (s *SQLiteStore) GetQueueEntry(ctx context.Context, taskID string) (*queue.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE task_id = ?`, taskID)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, queue.ErrNotQueued)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entry: %w", err)
	}
	return e, nil
}

// CountQueueEntries counts entries per status.
func (s *SQLiteStore) CountQueueEntries(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var status queue.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteQueueEntries removes entries with the given status, or all entries
// when status is nil. Returns the number removed.
func (s *SQLiteStore) DeleteQueueEntries(ctx context.Context, status *queue.Status) (int64, error) {
	var res sql.Result
	var err error
	if status == nil {
		res, err = s.db.ExecContext(ctx, `DELETE FROM queue_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE status = ?`, *status)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClaimNextQueueEntry marks the next eligible PENDING entry as PROCESSING.
// Entries drain by priority descending, then creation time ascending.
func (s *SQLiteStore) ClaimNextQueueEntry(ctx context.Context, now time.Time) (*queue.Entry, error) {
	var claimed *queue.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+queueColumns+` FROM queue_entries
			WHERE status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)
			ORDER BY priority DESC, created_at, rowid
			LIMIT 1
		`, queue.StatusPending, now.UnixNano())
		e, err := scanQueueEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select queue entry: %w", err)
		}

		e.Status = queue.StatusProcessing
		e.Attempts++
		e.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_entries SET status = ?, attempts = ?, updated_at = ? WHERE id = ?
		`, e.Status, e.Attempts, unixNano(now), e.ID); err != nil {
			return fmt.Errorf("failed to claim queue entry: %w", err)
		}
		claimed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateQueueEntry writes the mutable fields of an entry while its stored
// status is one of from. Returns false when no row matched.
func (s *SQLiteStore) UpdateQueueEntry(ctx context.Context, e *queue.Entry, from ...queue.Status) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("update of queue entry for task %s: no source status", e.TaskID)
	}

	args := []any{e.AgentID, e.Priority, e.Status, nullableTime(e.ScheduledFor), e.Attempts,
		e.MaxAttempts, e.LastError, unixNano(e.UpdatedAt), e.TaskID}
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET agent_id = ?, priority = ?, status = ?, scheduled_for = ?, attempts = ?,
			max_attempts = ?, last_error = ?, updated_at = ?
		WHERE task_id = ? AND status IN (`+strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")+`)`,
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to update queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func scanQueueEntry(row scanner) (*queue.Entry, error) {
	e := &queue.Entry{}
	var scheduledFor sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&e.ID, &e.TaskID, &e.AgentID, &e.Priority, &e.Status, &scheduledFor, &e.Attempts,
		&e.MaxAttempts, &e.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.ScheduledFor = timePtr(scheduledFor)
	e.CreatedAt = fromUnixNano(createdAt)
	e.UpdatedAt = fromUnixNano(updatedAt)
	return e, nil
}
