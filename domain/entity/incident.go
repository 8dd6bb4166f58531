package entity

import "time"

type ActionType string

const (
	ActionTypePayloadReceived    ActionType = "payload_received"
	ActionTypeTicketCreated      ActionType = "ticket_created"
	ActionTypeTicketResolved     ActionType = "ticket_resolved"
	ActionTypeNotificationSent   ActionType = "notification_sent"
	ActionTypeAutomationExecuted ActionType = "automation_executed"
	ActionTypeError              ActionType = "error"
)

// ActionEntry is immutable once appended to an incident's history.
type ActionEntry struct {
	Type      ActionType     `json:"type" dynamo:"type"`
	Tool      string         `json:"tool" dynamo:"tool"`
	Input     map[string]any `json:"input" dynamo:"input"`
	Output    map[string]any `json:"output" dynamo:"output"`
	Timestamp time.Time      `json:"timestamp" dynamo:"timestamp"`
}

type Incident struct {
	IncidentID string         `json:"incident_id" dynamo:"incident_id,hash"`
	RawPayload map[string]any `json:"raw_payload" dynamo:"raw_payload"`
	Status     string         `json:"status" dynamo:"status"`
	TicketID   string         `json:"ticket_id" dynamo:"ticket_id"`
	CreatedAt  time.Time      `json:"created_at" dynamo:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" dynamo:"updated_at"`
	// Actions only ever grows. Appends go through the repository's atomic
	// list append, never through Upsert.
	Actions []ActionEntry `json:"actions" dynamo:"actions"`
}

// IncidentUpdate carries the mergeable fields of an incident. Nil fields
// are left untouched by an upsert.
type IncidentUpdate struct {
	RawPayload map[string]any
	Status     *string
	TicketID   *string
}
