package scheduler

// PlanRequest is what the planner is told about the parent task.
type PlanRequest struct {
	Title          string
	Description    string
	Priority       Priority
	EstimatedHours float64
}

// Plan is the decomposition proposed by the planner. Subtasks reference
// each other by title because they have no identifiers yet.
type Plan struct {
	Analysis string  `json:"analysis"`
	Phases   []Phase `json:"phases"`
}

// Phase groups proposed subtasks.
type Phase struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Subtasks    []PlannedSubtask `json:"subtasks"`
}

// PlannedSubtask is a subtask proposal within a phase.
type PlannedSubtask struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	AgentRole      string   `json:"agent_role,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// Subtasks flattens all phases into a single list, preserving order.
func (p *Plan) Subtasks() []PlannedSubtask {
	if p == nil {
		return nil
	}
	var out []PlannedSubtask
	for _, phase := range p.Phases {
		out = append(out, phase.Subtasks...)
	}
	return out
}
