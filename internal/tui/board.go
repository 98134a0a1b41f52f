package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/task"
)

const nameWidth = 24

// Board renders agents, task progress and the task list side by side.
func Board(agents []agent.Agent, tasks []*task.Task) string {
	left := StyleBoardBorder.Render(AgentList(agents))
	right := StyleBoardBorder.Render(Progress(tasks) + "\n\n" + TaskList(tasks))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func heading(title string) string {
	t := StyleTitle.Render(title)
	return t + "\n" + strings.Repeat("=", lipgloss.Width(t)) + "\n"
}

// AgentList renders one line per agent with its status and current task.
func AgentList(agents []agent.Agent) string {
	var b strings.Builder
	b.WriteString(heading("Agents"))
	if len(agents) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents"))
		return b.String()
	}
	for _, a := range agents {
		fmt.Fprintf(&b, "%s %s %s", AgentIcon(a.Status), truncate(a.Name, nameWidth), StyleDim.Render(ShortID(a.ID)))
		if a.Type != "" {
			fmt.Fprintf(&b, " [%s]", a.Type)
		}
		switch {
		case a.CurrentTaskID != "":
			fmt.Fprintf(&b, " -> %s", ShortID(a.CurrentTaskID))
		case a.LastError != "":
			b.WriteString(" " + StyleStatusFailed.Render(truncate(a.LastError, 40)))
		}
		fmt.Fprintf(&b, " %s\n", StyleDim.Render(fmt.Sprintf("(%d done)", a.TasksCompleted)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// AgentIcon returns a styled status indicator.
func AgentIcon(status agent.Status) string {
	switch status {
	case agent.StatusWorking:
		return StyleStatusRunning.Render("●")
	case agent.StatusIdle:
		return StyleStatusComplete.Render("○")
	case agent.StatusError:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("-")
	}
}

// TaskIcon returns a styled task status indicator.
func TaskIcon(status task.Status) string {
	switch status {
	case task.StatusAssigned, task.StatusInProgress:
		return StyleStatusRunning.Render("●")
	case task.StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case task.StatusFailed:
		return StyleStatusFailed.Render("✗")
	case task.StatusBlocked:
		return StyleStatusBlocked.Render("!")
	case task.StatusReady:
		return StyleStatusPending.Render("○")
	default:
		return StyleStatusPending.Render("·")
	}
}

// TaskList renders one line per task.
func TaskList(tasks []*task.Task) string {
	var b strings.Builder
	b.WriteString(heading("Tasks"))
	if len(tasks) == 0 {
		b.WriteString(StyleStatusPending.Render("No tasks"))
		return b.String()
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s %-8s %s", TaskIcon(t.Status), StyleDim.Render(ShortID(t.ID)), t.Priority, truncate(t.Title, 40))
		switch {
		case t.AssignedAgentID != "":
			fmt.Fprintf(&b, " @%s", ShortID(t.AssignedAgentID))
		case t.Status == task.StatusBlocked && t.BlockReason != "":
			b.WriteString(" " + StyleStatusBlocked.Render(t.BlockReason))
		case t.Status == task.StatusFailed && t.Error != "":
			b.WriteString(" " + StyleStatusFailed.Render(truncate(t.Error, 40)))
		case len(t.DependsOn) > 0 && t.Status == task.StatusQueued:
			short := make([]string, len(t.DependsOn))
			for i, id := range t.DependsOn {
				short[i] = ShortID(id)
			}
			b.WriteString(" " + StyleDim.Render("after "+strings.Join(short, ",")))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Progress renders task counts and a progress bar.
func Progress(tasks []*task.Task) string {
	var completed, running, failed, blocked int
	for _, t := range tasks {
		switch {
		case t.Status == task.StatusCompleted:
			completed++
		case t.Status.InFlight():
			running++
		case t.Status == task.StatusFailed:
			failed++
		case t.Status == task.StatusBlocked:
			blocked++
		}
	}
	total := len(tasks)
	pending := total - completed - running - failed - blocked

	var b strings.Builder
	b.WriteString(heading("Progress"))
	fmt.Fprintf(&b, "Total:     %d\n", total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed)))
	fmt.Fprintf(&b, "Blocked:   %s\n", StyleStatusBlocked.Render(fmt.Sprintf("%d", blocked)))
	fmt.Fprintf(&b, "Pending:   %s", StyleStatusPending.Render(fmt.Sprintf("%d", pending)))

	if total > 0 {
		const barWidth = 40
		completedWidth := (completed * barWidth) / total
		failedWidth := ((failed + blocked) * barWidth) / total
		runningWidth := (running * barWidth) / total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", completedWidth))
		bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
		bar += StyleStatusRunning.Render(strings.Repeat("-", runningWidth))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		fmt.Fprintf(&b, "\n\n[%s]  %d/%d", bar, completed, total)
	}
	return b.String()
}

// ShortID abbreviates generated ids for display. Short ids are kept whole.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width-3 {
		r = r[:width-3]
	}
	return string(r) + "..."
}
