package entity

// EventResult is the structured record the summarizer extracts from a
// session's final trace.
type EventResult struct {
	EventType      string `json:"event_type"`
	TicketID       string `json:"ticket_id"`
	Comment        string `json:"comment"`
	ThoughtProcess string `json:"thought_process,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeDone            OutcomeStatus = "done"
	OutcomePendingApproval OutcomeStatus = "pending_approval"
	OutcomeNoAction        OutcomeStatus = "no_action"
)

// Outcome is what a session returns to its caller: a final structured
// result, a no-action indicator, or a pending-approval token.
type Outcome struct {
	Status          OutcomeStatus `json:"status"`
	Result          *EventResult  `json:"result,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
	RequestedAction *ToolCall     `json:"requested_action,omitempty"`
}
