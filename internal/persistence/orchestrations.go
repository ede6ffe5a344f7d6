package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/google/uuid"
)

const orchestrationColumns = `id, parent_task_id, status, plan, total_subtasks, completed_subtasks,
	phase, error, created_at, updated_at, completed_at`

// terminalGuard restricts a write to orchestrations that can still move.
const terminalGuard = `status NOT IN ('COMPLETED', 'FAILED')`

// CreateOrchestration inserts a new orchestration. Returns ErrConflict when
// the parent task already has one.
func (s *SQLiteStore) CreateOrchestration(ctx context.Context, o *scheduler.Orchestration) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = scheduler.OrchestrationPlanning
	}
	plan, err := encodePlan(o.Plan)
	if err != nil {
		return err
	}

	now := s.now()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrations (`+orchestrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ParentTaskID, o.Status, plan, o.TotalSubtasks, o.CompletedSubtasks,
		o.Phase, o.Error, unixNano(now), unixNano(now), nullableTime(o.CompletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("orchestration for task %s: %w", o.ParentTaskID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert orchestration: %w", err)
	}
	return nil
}

// GetOrchestration loads an orchestration by ID.
func (s *SQLiteStore) GetOrchestration(ctx context.Context, id string) (*scheduler.Orchestration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orchestrationColumns+` FROM orchestrations WHERE id = ?`, id)
	o, err := scanOrchestration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("orchestration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestration: %w", err)
	}
	return o, nil
}

// GetOrchestrationByParent returns the orchestration of a parent task, or
// nil when the task was never orchestrated.
func (s *SQLiteStore) GetOrchestrationByParent(ctx context.Context, parentTaskID string) (*scheduler.Orchestration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orchestrationColumns+` FROM orchestrations WHERE parent_task_id = ?`, parentTaskID)
	o, err := scanOrchestration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestration: %w", err)
	}
	return o, nil
}

// ListOrchestrationsByStatus returns orchestrations in any of the given
// statuses, oldest first. No statuses means all of them.
func (s *SQLiteStore) ListOrchestrationsByStatus(ctx context.Context, statuses ...scheduler.OrchestrationStatus) ([]*scheduler.Orchestration, error) {
	query := `SELECT ` + orchestrationColumns + ` FROM orchestrations`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		for i, st := range statuses {
			args[i] = st
		}
		query += ` WHERE status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + `)`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orchestrations: %w", err)
	}
	defer rows.Close()

	var out []*scheduler.Orchestration
	for rows.Next() {
		o, err := scanOrchestration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orchestration: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrchestration writes the mutable fields of a non-terminal
// orchestration. Returns ErrConflict when it is already COMPLETED or FAILED;
// use TransitionOrchestration to enter those states.
func (s *SQLiteStore) UpdateOrchestration(ctx context.Context, o *scheduler.Orchestration) error {
	plan, err := encodePlan(o.Plan)
	if err != nil {
		return err
	}
	o.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = ?, plan = ?, total_subtasks = ?, completed_subtasks = ?,
			phase = ?, error = ?, updated_at = ?
		WHERE id = ? AND `+terminalGuard,
		o.Status, plan, o.TotalSubtasks, o.CompletedSubtasks, o.Phase, o.Error, unixNano(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update orchestration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetOrchestration(ctx, o.ID); err != nil {
			return err
		}
		return fmt.Errorf("orchestration %s is terminal: %w", o.ID, ErrConflict)
	}
	return nil
}

// UpdateOrchestrationProgress records the subtask counts of an EXECUTING
// orchestration. Returns false when it is no longer executing.
func (s *SQLiteStore) UpdateOrchestrationProgress(ctx context.Context, id string, completed, total int, phase string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET completed_subtasks = ?, total_subtasks = ?, phase = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, completed, total, phase, unixNano(s.now()), id, scheduler.OrchestrationExecuting)
	if err != nil {
		return false, fmt.Errorf("failed to update orchestration progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// TransitionOrchestration moves an orchestration to `to` only if its current
// status is one of from. Entering a terminal status stamps completed_at.
// Returns false when the orchestration was not in an allowed status, which
// makes concurrent callers race safely: exactly one of them wins.
func (s *SQLiteStore) TransitionOrchestration(ctx context.Context, id string, from []scheduler.OrchestrationStatus, to scheduler.OrchestrationStatus, phase, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition of orchestration %s: no source status", id)
	}

	now := unixNano(s.now())
	var completedAt sql.NullInt64
	if to.Terminal() {
		completedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	args := []any{to, phase, errMsg, now, completedAt, id}
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = ?, phase = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (`+strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")+`)`,
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition orchestration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ResetOrchestration restarts a FAILED orchestration from PLANNING. Subtasks
// created by the failed attempt are detached so the new attempt starts from
// an empty set; they stay in the store as ordinary tasks. Returns false when
// the orchestration is not FAILED.
func (s *SQLiteStore) ResetOrchestration(ctx context.Context, id string) (bool, error) {
	reset := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := unixNano(s.now())
		res, err := tx.ExecContext(ctx, `
			UPDATE orchestrations
			SET status = ?, plan = '', total_subtasks = 0, completed_subtasks = 0,
				phase = ?, error = '', updated_at = ?, completed_at = NULL
			WHERE id = ? AND status = ?
		`, scheduler.OrchestrationPlanning, "Restarting after failure", now, id, scheduler.OrchestrationFailed)
		if err != nil {
			return fmt.Errorf("failed to reset orchestration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET orchestration_id = '', updated_at = ? WHERE orchestration_id = ?
		`, now, id); err != nil {
			return fmt.Errorf("failed to detach previous subtasks: %w", err)
		}
		reset = true
		return nil
	})
	return reset, err
}

func encodePlan(p *scheduler.Plan) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	return string(b), nil
}

func scanOrchestration(row scanner) (*scheduler.Orchestration, error) {
	o := &scheduler.Orchestration{}
	var plan string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&o.ID, &o.ParentTaskID, &o.Status, &plan, &o.TotalSubtasks, &o.CompletedSubtasks,
		&o.Phase, &o.Error, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if plan != "" {
		o.Plan = &scheduler.Plan{}
		if err := json.Unmarshal([]byte(plan), o.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan of orchestration %s: %w", o.ID, err)
		}
	}
	o.CreatedAt = fromUnixNano(createdAt)
	o.UpdatedAt = fromUnixNano(updatedAt)
	o.CompletedAt = timePtr(completedAt)
	return o, nil
}
