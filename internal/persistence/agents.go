package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/google/uuid"
)

// CreateAgent registers an agent. An empty ID is replaced with a new UUID.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *scheduler.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Role == "" {
		return fmt.Errorf("agent %s: role is required", agent.ID)
	}
	agent.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.Role, agent.Active, unixNano(agent.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("agent %s already exists: %w", agent.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// FindActiveByRole returns the longest-registered active agent with the
// given role, or nil when there is none.
func (s *SQLiteStore) FindActiveByRole(ctx context.Context, role string) (*scheduler.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, active, created_at FROM agents
		WHERE role = ? AND active = 1
		ORDER BY created_at, rowid
		LIMIT 1
	`, role)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent by role: %w", err)
	}
	return agent, nil
}

// ListAgents returns every registered agent.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*scheduler.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, active, created_at FROM agents ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*scheduler.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SetAgentActive enables or disables an agent.
func (s *SQLiteStore) SetAgentActive(ctx context.Context, agentID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET active = ? WHERE id = ?`, active, agentID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return requireRow(res, "agent", agentID)
}

func scanAgent(row scanner) (*scheduler.Agent, error) {
	agent := &scheduler.Agent{}
	var createdAt int64
	if err := row.Scan(&agent.ID, &agent.Name, &agent.Role, &agent.Active, &createdAt); err != nil {
		return nil, err
	}
	agent.CreatedAt = fromUnixNano(createdAt)
	return agent, nil
}
