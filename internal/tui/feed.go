package tui

import (
	"fmt"
	"time"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/events"
)

// EventLine renders one event for the run command's feed. Pool progress
// events are too chatty for the feed and render as "".
func EventLine(ev events.Event) string {
	switch e := ev.(type) {
	case events.AgentCreatedEvent:
		return fmt.Sprintf("%s agent %s (%s) joined as %s", AgentIcon(agent.StatusIdle), e.Name, ShortID(e.ID), e.Status)
	case events.AgentRemovedEvent:
		if e.InterruptedTaskID != "" {
			return fmt.Sprintf("%s agent %s removed, task %s requeued", StyleStatusBlocked.Render("-"), e.Name, ShortID(e.InterruptedTaskID))
		}
		return fmt.Sprintf("%s agent %s removed", StyleStatusPending.Render("-"), e.Name)
	case events.AgentStatusEvent:
		line := fmt.Sprintf("%s agent %s is %s", StyleDim.Render("·"), e.Name, e.Status)
		if e.Reason != "" {
			line += ": " + e.Reason
		}
		return line
	case events.AgentUpdatedEvent:
		return fmt.Sprintf("%s agent %s updated (type %s)", StyleDim.Render("·"), e.Name, e.Type)
	case events.TaskCreatedEvent:
		return fmt.Sprintf("%s task %s %q submitted (%s)", StyleStatusPending.Render("+"), ShortID(e.ID), e.Title, e.Priority)
	case events.TaskAssignedEvent:
		return fmt.Sprintf("%s task %s %q -> %s", StyleStatusRunning.Render("●"), ShortID(e.ID), e.Title, e.AgentName)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("%s task %s %q completed in %s", StyleStatusComplete.Render("✓"), ShortID(e.ID), e.Title, e.Duration.Round(time.Second))
	case events.TaskFailedEvent:
		return fmt.Sprintf("%s task %s %q failed: %s", StyleStatusFailed.Render("✗"), ShortID(e.ID), e.Title, e.Reason)
	case events.TaskInterruptedEvent:
		return fmt.Sprintf("%s task %s %q back to ready: %s", StyleStatusBlocked.Render("↺"), ShortID(e.ID), e.Title, e.Reason)
	case events.TaskBlockedEvent:
		return fmt.Sprintf("%s task %s %q blocked: %s", StyleStatusBlocked.Render("!"), ShortID(e.ID), e.Title, e.Reason)
	case events.TaskRequeuedEvent:
		return fmt.Sprintf("%s task %s %q requeued as %s", StyleStatusPending.Render("↺"), ShortID(e.ID), e.Title, e.Status)
	case events.TaskDeletedEvent:
		return fmt.Sprintf("%s task %s %q deleted", StyleStatusPending.Render("-"), ShortID(e.ID), e.Title)
	case events.TaskDispatchFailedEvent:
		return fmt.Sprintf("%s prompt for %s %q not delivered to %s: %s", StyleStatusFailed.Render("✗"), ShortID(e.ID), e.Title, ShortID(e.AgentID), e.Reason)
	case events.PoolProgressEvent:
		return ""
	default:
		return fmt.Sprintf("%s %s %s", StyleDim.Render("·"), ev.EventType(), ev.EntityID())
	}
}
