package persistence

import (
	"context"
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
)

// ListStatusChanges returns the audit trail of a task, oldest first.
func (s *SQLiteStore) ListStatusChanges(ctx context.Context, taskID string) ([]scheduler.StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, from_status, to_status, actor, reason, created_at
		FROM status_audit
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status audit: %w", err)
	}
	defer rows.Close()

	var changes []scheduler.StatusChange
	for rows.Next() {
		var c scheduler.StatusChange
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.TaskID, &c.From, &c.To, &c.Actor, &c.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		c.CreatedAt = fromUnixNano(createdAt)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
