package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/google/uuid"
)

const taskColumns = `id, title, description, priority, status, estimated_hours,
	orchestration_id, agent_id, parent_id, created_at, updated_at`

// CreateTask inserts a task together with its dependency edges.
// An empty ID is replaced with a new UUID. Dependencies must already exist.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *scheduler.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Priority == "" {
		task.Priority = scheduler.PriorityMedium
	}
	if task.Status == "" {
		task.Status = scheduler.TaskTodo
	}
	if !task.Priority.Valid() {
		return fmt.Errorf("task %s: unknown priority %q", task.ID, task.Priority)
	}
	if !task.Status.Valid() {
		return fmt.Errorf("task %s: unknown status %q", task.ID, task.Status)
	}

	now := s.now()
	task.CreatedAt = now
	task.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.Title, task.Description, task.Priority, task.Status, task.EstimatedHours,
			task.OrchestrationID, task.AgentID, task.ParentID, unixNano(now), unixNano(now))
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s already exists: %w", task.ID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}

		for _, depID := range task.DependsOn {
			if err := insertDependency(ctx, tx, task.ID, depID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddDependency records that taskID depends on dependsOnID. Adding an
// existing edge is a no-op.
func (s *SQLiteStore) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{taskID, dependsOnID} {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("task %s: %w", id, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to check task existence: %w", err)
			}
		}
		if err := insertDependency(ctx, tx, taskID, dependsOnID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, unixNano(s.now()), taskID)
		return err
	})
}

func insertDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOnID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id)
		VALUES (?, ?)
		ON CONFLICT(task_id, depends_on_id) DO NOTHING
	`, taskID, dependsOnID)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("dependency %s -> %s: %w", taskID, dependsOnID, ErrNotFound)
		}
		return fmt.Errorf("failed to insert dependency %s -> %s: %w", taskID, dependsOnID, err)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependencies and dependents.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if err := s.loadEdges(ctx, []*scheduler.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTasks loads the tasks with the given IDs. Missing IDs are skipped.
func (s *SQLiteStore) GetTasks(ctx context.Context, ids []string) ([]*scheduler.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id IN (`+placeholders+`) ORDER BY created_at, rowid`, args...)
}

// ListTasks returns all tasks with their dependencies, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, rowid`)
}

// ListTasksByOrchestration returns the subtasks of an orchestration in creation order.
func (s *SQLiteStore) ListTasksByOrchestration(ctx context.Context, orchestrationID string) ([]*scheduler.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE orchestration_id = ? ORDER BY created_at, rowid`, orchestrationID)
}

// AssignAgent sets the task's agent.
func (s *SQLiteStore) AssignAgent(ctx context.Context, taskID, agentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET agent_id = ?, updated_at = ? WHERE id = ?
	`, agentID, unixNano(s.now()), taskID)
	if err != nil {
		return fmt.Errorf("failed to assign agent: %w", err)
	}
	return requireRow(res, "task", taskID)
}

// UpdateTaskStatus moves a task to status `to` and appends an audit record in
// the same transaction. Returns false without writing anything when the task
// already has that status.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, to scheduler.TaskStatus, actor, reason string) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("unknown task status %q", to)
	}

	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var from scheduler.TaskStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&from)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read task status: %w", err)
		}
		if from == to {
			return nil
		}

		now := unixNano(s.now())
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
		`, to, now, taskID); err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO status_audit (task_id, from_status, to_status, actor, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, taskID, from, to, actor, reason, now); err != nil {
			return fmt.Errorf("failed to append status audit: %w", err)
		}

		changed = true
		return nil
	})
	return changed, err
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var tasks []*scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	// Edges are loaded after the cursor is released; the store holds one connection.
	if err := s.loadEdges(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadEdges fills DependsOn and Dependents for tasks.
func (s *SQLiteStore) loadEdges(ctx context.Context, tasks []*scheduler.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]*scheduler.Task, len(tasks))
	for _, t := range tasks {
		t.DependsOn = []string{}
		t.Dependents = []string{}
		byID[t.ID] = t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id FROM task_dependencies ORDER BY rowid
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.DependsOn = append(t.DependsOn, depID)
		}
		if t, ok := byID[depID]; ok {
			t.Dependents = append(t.Dependents, taskID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var createdAt, updatedAt int64
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Priority, &task.Status,
		&task.EstimatedHours, &task.OrchestrationID, &task.AgentID, &task.ParentID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	task.CreatedAt = fromUnixNano(createdAt)
	task.UpdatedAt = fromUnixNano(updatedAt)
	return task, nil
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
	}
	return nil
}
