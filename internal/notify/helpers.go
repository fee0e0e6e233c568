package notify

import (
	"fmt"
	"strings"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/severity"
)

// NotifyFinding sends a notification for a severe finding
func (m *Manager) NotifyFinding(f agent.Finding) error {
	return m.Notify(Notification{
		Type:    NotificationTypeFinding,
		Title:   fmt.Sprintf("%s finding on %s", f.Severity, f.Target),
		Message: firstLine(f.Content),
		Data: map[string]any{
			"agent_id": f.AgentID,
			"target":   f.Target,
			"severity": string(f.Severity),
		},
	})
}

// NotifyAgentStuck sends a notification when an agent appears stuck
func (m *Manager) NotifyAgentStuck(agentID, detail string) error {
	return m.Notify(Notification{
		Type:    NotificationTypeStuck,
		Title:   "Agent Stuck",
		Message: fmt.Sprintf("Agent %s appears stuck: %s", agentID, detail),
		Data: map[string]any{
			"agent_id": agentID,
		},
	})
}

// NotifyAgentError sends a notification when an agent fails
func (m *Manager) NotifyAgentError(agentID, errorMsg string) error {
	return m.Notify(Notification{
		Type:    NotificationTypeError,
		Title:   "Agent Error",
		Message: fmt.Sprintf("Agent %s failed: %s", agentID, errorMsg),
		Data: map[string]any{
			"agent_id": agentID,
			"error":    errorMsg,
		},
	})
}

// NotifyOperationComplete sends the end-of-operation summary
func (m *Manager) NotifyOperationComplete(target string, agents, failed int, summary severity.Summary) error {
	var parts []string
	for _, l := range severity.Order {
		if n := summary[l]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, l))
		}
	}
	findings := "no findings"
	if len(parts) > 0 {
		findings = strings.Join(parts, ", ")
	}
	return m.Notify(Notification{
		Type:    NotificationTypeComplete,
		Title:   "Operation Complete",
		Message: fmt.Sprintf("%s: %d agent(s), %d failed, %s", target, agents, failed, findings),
		Data: map[string]any{
			"target":   target,
			"findings": summary.Total(),
		},
	})
}

// NotifyInfo sends a general informational notification
func (m *Manager) NotifyInfo(title, message string) error {
	return m.Notify(Notification{
		Type:    NotificationTypeInfo,
		Title:   title,
		Message: message,
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
