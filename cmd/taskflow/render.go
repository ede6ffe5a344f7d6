package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	levelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

var priorityColors = map[scheduler.Priority]lipgloss.Color{
	scheduler.PriorityUrgent: lipgloss.Color("9"),
	scheduler.PriorityHigh:   lipgloss.Color("208"),
	scheduler.PriorityMedium: lipgloss.Color("11"),
	scheduler.PriorityLow:    lipgloss.Color("8"),
}

func priorityLabel(p scheduler.Priority) string {
	return lipgloss.NewStyle().Foreground(priorityColors[p]).Render(fmt.Sprintf("%-6s", p))
}

func statusLabel(s scheduler.TaskStatus) string {
	switch s {
	case scheduler.TaskDone:
		return okStyle.Render(string(s))
	case scheduler.TaskBlocked:
		return errorStyle.Render(string(s))
	case scheduler.TaskInProgress, scheduler.TaskReview:
		return warnStyle.Render(string(s))
	default:
		return string(s)
	}
}

// renderLevels draws one box per execution level.
func renderLevels(w io.Writer, g *scheduler.Graph) {
	if g.HasCycle {
		fmt.Fprintln(w, errorStyle.Render("cycle: "+g.CycleDescription))
		return
	}

	boxes := make([]string, 0, len(g.Levels))
	for i, level := range g.Levels {
		lines := []string{headerStyle.Render(fmt.Sprintf("Level %d", i))}
		for _, id := range level {
			n := g.Nodes[id]
			lines = append(lines, fmt.Sprintf("%s %s", priorityLabel(n.Priority), n.Title))
		}
		boxes = append(boxes, levelStyle.Render(strings.Join(lines, "\n")))
	}
	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, boxes...))

	mode := "sequential"
	if g.CanParallelize {
		mode = "parallel work available"
	}
	fmt.Fprintf(w, "%s %d levels, %s\n", labelStyle.Render("depth:"), g.Depth(), mode)
}

func renderOrchestration(w io.Writer, o *scheduler.Orchestration) {
	status := string(o.Status)
	switch o.Status {
	case scheduler.OrchestrationCompleted:
		status = okStyle.Render(status)
	case scheduler.OrchestrationFailed:
		status = errorStyle.Render(status)
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("orchestration:"), o.ID)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("parent task:  "), o.ParentTaskID)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("status:       "), status)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("phase:        "), o.Phase)
	fmt.Fprintf(w, "%s %d/%d\n", labelStyle.Render("progress:     "), o.CompletedSubtasks, o.TotalSubtasks)
	if o.Error != "" {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("error:        "), errorStyle.Render(o.Error))
	}
}

func renderTasks(w io.Writer, tasks []*scheduler.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, labelStyle.Render("no tasks"))
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%s  %s  %-11s  %s", t.ID, priorityLabel(t.Priority), statusLabel(t.Status), t.Title)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(w, "  %s", labelStyle.Render("after "+strings.Join(t.DependsOn, ",")))
		}
		fmt.Fprintln(w)
	}
}

func renderQueueCounts(w io.Writer, c queue.Counts) {
	fmt.Fprintln(w, headerStyle.Render("Queue"))
	fmt.Fprintf(w, "  %-10s %d\n", "pending", c.Pending)
	fmt.Fprintf(w, "  %-10s %d\n", "processing", c.Processing)
	fmt.Fprintf(w, "  %-10s %d\n", "completed", c.Completed)
	fmt.Fprintf(w, "  %-10s %d\n", "failed", c.Failed)
	fmt.Fprintf(w, "  %-10s %d\n", "total", c.Total)
}

func renderEntry(w io.Writer, e *queue.Entry) {
	fmt.Fprintf(w, "%s task=%s agent=%s priority=%d attempts=%d/%d status=%s\n",
		headerStyle.Render("entry"), e.TaskID, e.AgentID, e.Priority, e.Attempts, e.MaxAttempts, e.Status)
}
