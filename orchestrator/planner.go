package orchestrator

import (
	"fmt"
	"strings"

	"sentinela/domain/entity"
)

const (
	ToolCreateTicket  = "create_ticket"
	ToolResolveTicket = "resolve_ticket"
	ToolNotify        = "notify"
	ToolFindTicket    = "find_ticket_by_incident"
	ToolRunAutomation = "run_automation_script"
)

type Planner struct {
	scripts []entity.AutomationScript
}

func NewPlanner(scripts []entity.AutomationScript) *Planner {
	return &Planner{scripts: scripts}
}

// Plan maps a normalized status onto the ordered tool sequence for it.
// Arguments are bound at execution time because later steps consume
// earlier outputs.
func (p *Planner) Plan(status entity.NormalizedStatus) []entity.ToolCall {
	switch status {
	case entity.StatusOpen:
		return []entity.ToolCall{
			{Tool: ToolCreateTicket},
			{Tool: ToolNotify},
		}
	case entity.StatusResolve:
		return []entity.ToolCall{
			{Tool: ToolFindTicket},
			{Tool: ToolResolveTicket},
			{Tool: ToolNotify},
		}
	default:
		return nil
	}
}

// AutomationFor inspects an open event's payload for the trigger phrases of
// the configured remediation scripts. A dead host matches reboot_machine,
// a stopped service matches restart_service.
func (p *Planner) AutomationFor(payload map[string]any) *entity.ToolCall {
	text := payloadText(payload)
	if text == "" {
		return nil
	}

	for _, script := range p.scripts {
		for _, trigger := range script.Triggers {
			if trigger == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(trigger)) {
				return &entity.ToolCall{
					Tool: ToolRunAutomation,
					Args: map[string]any{
						"script": script.Name,
						"host":   payloadHost(payload),
					},
				}
			}
		}
	}
	return nil
}

func payloadText(payload map[string]any) string {
	var parts []string
	for _, key := range []string{"trigger", "problem", "message", "description", "event_name"} {
		if v, ok := payload[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func payloadHost(payload map[string]any) string {
	for _, key := range []string{"host", "hostname", "node"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return "unknown"
}

// IncidentIDFrom extracts the incident identifier, accepting the string and
// integer shapes the monitoring sources send.
func IncidentIDFrom(payload map[string]any) (string, bool) {
	switch v := payload["incident_id"].(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}

// StatusFrom reads the raw status field, whichever key the source uses.
func StatusFrom(payload map[string]any) string {
	for _, key := range []string{"status", "event_status", "state"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
