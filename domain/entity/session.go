package entity

import "time"

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ToolCall is one planned invocation of an external capability.
type ToolCall struct {
	Tool string         `json:"tool" dynamo:"tool"`
	Args map[string]any `json:"args" dynamo:"args"`
}

// CompletedStep records an already-executed plan step so a resumed session
// can reuse its output instead of running the tool again.
type CompletedStep struct {
	Call   ToolCall       `json:"call" dynamo:"call"`
	Output map[string]any `json:"output" dynamo:"output"`
}

// SessionCheckpoint is the durable snapshot written when execution suspends
// for an approval decision. It exists only between suspension and the resume
// call that consumes it.
type SessionCheckpoint struct {
	SessionID      string          `json:"session_id" dynamo:"session_id,hash"`
	IncidentID     string          `json:"incident_id" dynamo:"incident_id"`
	PendingAction  ToolCall        `json:"pending_action" dynamo:"pending_action"`
	CompletedSteps []CompletedStep `json:"completed_steps" dynamo:"completed_steps"`
	Plan           []ToolCall      `json:"plan" dynamo:"plan"`
	Trace          string          `json:"trace" dynamo:"trace"`
	CreatedAt      time.Time       `json:"created_at" dynamo:"created_at"`
}
