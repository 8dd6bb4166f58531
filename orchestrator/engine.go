package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentinela/domain/entity"
	"sentinela/domain/repository"
	"sentinela/presentation/report"
)

var (
	ErrValidation      = fmt.Errorf("payload validation failed")
	ErrTimeout         = fmt.Errorf("execution budget exceeded")
	ErrSessionPending  = fmt.Errorf("incident already has a pending session")
	ErrSessionNotFound = fmt.Errorf("session not found")
)

type State string

const (
	StateReceived    State = "received"
	StatePlanning    State = "planning"
	StateExecuting   State = "executing"
	StateSuspended   State = "suspended_for_approval"
	StateResuming    State = "resuming"
	StateSummarizing State = "summarizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// SessionIDFor derives the session identifier from the incident identity.
// One incident can hold at most one outstanding checkpoint, so the mapping
// is deterministic.
func SessionIDFor(incidentID string) string {
	return "session-" + incidentID
}

// Engine drives a single incident session through the state machine:
// received -> planning -> executing -> (suspended/resuming) -> summarizing.
// Suspension is not a blocking wait: the checkpoint is persisted and
// control returns to the caller.
type Engine struct {
	repo             repository.Repository
	planner          *Planner
	dispatcher       *Dispatcher
	summarizer       repository.Summarizer
	exporter         repository.ReportExporter
	notifyChannel    string
	executionTimeout time.Duration
	summaryTimeout   time.Duration
}

func NewEngine(
	repo repository.Repository,
	planner *Planner,
	dispatcher *Dispatcher,
	summarizer repository.Summarizer,
	exporter repository.ReportExporter,
	notifyChannel string,
	executionTimeout time.Duration,
	summaryTimeout time.Duration,
) *Engine {
	return &Engine{
		repo:             repo,
		planner:          planner,
		dispatcher:       dispatcher,
		summarizer:       summarizer,
		exporter:         exporter,
		notifyChannel:    notifyChannel,
		executionTimeout: executionTimeout,
		summaryTimeout:   summaryTimeout,
	}
}

type session struct {
	state      State
	incidentID string
	payload    map[string]any
	plan       []entity.ToolCall
	completed  []entity.CompletedStep
	values     map[string]string
	trace      strings.Builder
}

func (s *session) transition(to State) {
	slog.Debug("Session state change",
		slog.String("incident_id", s.incidentID),
		slog.String("from", string(s.state)),
		slog.String("to", string(to)),
	)
	s.state = to
}

func (s *session) tracef(format string, args ...any) {
	fmt.Fprintf(&s.trace, format+"\n", args...)
}

// noteStep records a finished step: completed list for checkpointing,
// extracted values for later argument binding, and the trace line the
// summarizer reads.
func (s *session) noteStep(call entity.ToolCall, output map[string]any) {
	s.completed = append(s.completed, entity.CompletedStep{Call: call, Output: output})
	s.absorb(output)

	line := fmt.Sprintf("tool=%s outcome=ok", call.Tool)
	if ticketID, ok := output["ticket_id"].(string); ok && ticketID != "" {
		line += " ticket_id=" + ticketID
	}
	if delivered, ok := output["delivered"].(bool); ok {
		line += fmt.Sprintf(" delivered=%t", delivered)
	}
	if status, ok := output["status"].(string); ok && status != "" {
		line += " status=" + status
	}
	s.tracef("%s", line)
}

func (s *session) absorb(output map[string]any) {
	if ticketID, ok := output["ticket_id"].(string); ok && ticketID != "" {
		s.values["ticket_id"] = ticketID
	}
}

// Execute runs one delivered monitoring event through a full session.
func (e *Engine) Execute(ctx context.Context, payload map[string]any) (*entity.Outcome, error) {
	incidentID, ok := IncidentIDFrom(payload)
	if !ok {
		return nil, fmt.Errorf("%w: incident_id is required", ErrValidation)
	}

	sess := &session{
		state:      StateReceived,
		incidentID: incidentID,
		payload:    payload,
		values:     map[string]string{},
	}

	rawStatus := StatusFrom(payload)

	// The receipt record is persisted before anything else so every
	// delivered event leaves a trace even when later steps fail.
	status := rawStatus
	if _, err := e.repo.UpsertIncident(ctx, incidentID, entity.IncidentUpdate{
		RawPayload: payload,
		Status:     &status,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	received := entity.ActionEntry{
		Type:      entity.ActionTypePayloadReceived,
		Input:     payload,
		Timestamp: time.Now().UTC(),
	}
	if _, err := e.repo.AppendActions(ctx, incidentID, []entity.ActionEntry{received}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	sess.tracef("payload_received incident_id=%s status=%s", incidentID, rawStatus)

	// An incident holds at most one outstanding checkpoint. A second event
	// while one is pending is rejected, but only after its receipt is in
	// the audit trail.
	sessionID := SessionIDFor(incidentID)
	if _, err := e.repo.FindCheckpoint(ctx, sessionID); err == nil {
		e.recordFailure(incidentID, "", fmt.Sprintf("event rejected: session %s pending approval", sessionID))
		return nil, fmt.Errorf("%w: %s", ErrSessionPending, sessionID)
	} else if !errors.Is(err, repository.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	sess.transition(StatePlanning)
	normalized := entity.NormalizeStatus(rawStatus)
	plan := e.planner.Plan(normalized)
	if normalized == entity.StatusOpen {
		if auto := e.planner.AutomationFor(payload); auto != nil {
			plan = append(plan, *auto)
		}
	}
	sess.plan = plan

	if len(plan) == 0 {
		sess.tracef("status %q requires no action", rawStatus)
		return e.summarize(ctx, sess, entity.OutcomeNoAction, "status requires no action")
	}
	sess.tracef("plan: %s", planString(plan))

	sess.transition(StateExecuting)
	execCtx, cancel := context.WithTimeout(ctx, e.executionTimeout)
	defer cancel()

	outcome, err := e.runPlan(execCtx, sess, 0)
	if err != nil {
		return nil, e.fail(sess, err)
	}
	if outcome != nil {
		if outcome.Status == entity.OutcomePendingApproval {
			return outcome, nil
		}
		return e.summarize(ctx, sess, outcome.Status, outcome.Reason)
	}

	return e.summarize(ctx, sess, entity.OutcomeDone, "")
}

// Resume continues a suspended session with the caller's decision. The
// checkpoint is consumed first, so a second resume for the same session id
// finds nothing to act on.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision entity.Decision) (*entity.Outcome, error) {
	if decision != entity.DecisionApprove && decision != entity.DecisionReject {
		return nil, fmt.Errorf("%w: decision must be approve or reject", ErrValidation)
	}

	checkpoint, err := e.repo.FindCheckpoint(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := e.repo.DeleteCheckpoint(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	incident, err := e.repo.FindIncidentByID(ctx, checkpoint.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	sess := &session{
		state:      StateResuming,
		incidentID: checkpoint.IncidentID,
		payload:    incident.RawPayload,
		plan:       checkpoint.Plan,
		completed:  checkpoint.CompletedSteps,
		values:     map[string]string{},
	}
	sess.trace.WriteString(checkpoint.Trace)
	for _, step := range checkpoint.CompletedSteps {
		sess.absorb(step.Output)
	}

	sess.transition(StateExecuting)
	execCtx, cancel := context.WithTimeout(ctx, e.executionTimeout)
	defer cancel()

	gatedIndex := len(checkpoint.CompletedSteps)

	switch decision {
	case entity.DecisionApprove:
		sess.tracef("approval granted for %s", checkpoint.PendingAction.Tool)
		output, err := e.dispatcher.Invoke(execCtx, sess.incidentID, checkpoint.PendingAction)
		if err != nil {
			return nil, e.fail(sess, e.classifyStepError(execCtx, sess, checkpoint.PendingAction, err))
		}
		sess.noteStep(checkpoint.PendingAction, output)
	case entity.DecisionReject:
		sess.tracef("approval rejected for %s, skipping step", checkpoint.PendingAction.Tool)
		rejection := entity.ActionEntry{
			Type:      entity.ActionTypeError,
			Tool:      checkpoint.PendingAction.Tool,
			Input:     checkpoint.PendingAction.Args,
			Output:    map[string]any{"error": "approval rejected"},
			Timestamp: time.Now().UTC(),
		}
		if _, err := e.repo.AppendActions(ctx, sess.incidentID, []entity.ActionEntry{rejection}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	outcome, err := e.runPlan(execCtx, sess, gatedIndex+1)
	if err != nil {
		return nil, e.fail(sess, err)
	}
	if outcome != nil {
		if outcome.Status == entity.OutcomePendingApproval {
			return outcome, nil
		}
		return e.summarize(ctx, sess, outcome.Status, outcome.Reason)
	}

	return e.summarize(ctx, sess, entity.OutcomeDone, "")
}

// runPlan executes plan steps strictly in order, starting at from. It
// returns a non-nil outcome when execution suspends for approval or ends
// early with a defined no-action result.
func (e *Engine) runPlan(ctx context.Context, sess *session, from int) (*entity.Outcome, error) {
	for i := from; i < len(sess.plan); i++ {
		call := sess.plan[i]

		if call.Tool == ToolRunAutomation {
			return e.suspend(ctx, sess, call)
		}

		bound, err := e.bindArgs(ctx, sess, call)
		if err != nil {
			return nil, err
		}

		output, err := e.dispatcher.Invoke(ctx, sess.incidentID, bound)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				// Defined plan-level edge case: resolution for an
				// incident with no ticket aborts here instead of
				// fabricating an id.
				sess.tracef("tool=%s outcome=error reason=ticket not found", call.Tool)
				return &entity.Outcome{
					Status: entity.OutcomeNoAction,
					Reason: "ticket not found",
				}, nil
			}
			return nil, e.classifyStepError(ctx, sess, bound, err)
		}
		sess.noteStep(bound, output)

		// A freshly opened ticket is written onto the incident record so a
		// later resolution can find it. The store keeps the first value,
		// resolutions never alter it.
		if bound.Tool == ToolCreateTicket {
			if ticketID, ok := output["ticket_id"].(string); ok && ticketID != "" {
				if _, err := e.repo.UpsertIncident(ctx, sess.incidentID, entity.IncidentUpdate{TicketID: &ticketID}); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
				}
			}
		}
	}
	return nil, nil
}

// classifyStepError converts a dispatcher failure into the engine's error
// taxonomy, recording a timeout entry when the budget ran out.
func (e *Engine) classifyStepError(ctx context.Context, sess *session, call entity.ToolCall, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.recordFailure(sess.incidentID, call.Tool, "execution timeout")
		return fmt.Errorf("%w: step %s: %v", ErrTimeout, call.Tool, cause)
	}
	return cause
}

func (e *Engine) suspend(ctx context.Context, sess *session, call entity.ToolCall) (*entity.Outcome, error) {
	sess.transition(StateSuspended)

	checkpoint := &entity.SessionCheckpoint{
		SessionID:      SessionIDFor(sess.incidentID),
		IncidentID:     sess.incidentID,
		PendingAction:  call,
		CompletedSteps: sess.completed,
		Plan:           sess.plan,
		Trace:          sess.trace.String(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.repo.SaveCheckpoint(ctx, checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.notifyApprovers(ctx, sess, checkpoint)

	slog.Info("Session suspended for approval",
		slog.String("session_id", checkpoint.SessionID),
		slog.String("tool", call.Tool),
	)
	return &entity.Outcome{
		Status:          entity.OutcomePendingApproval,
		SessionID:       checkpoint.SessionID,
		RequestedAction: &call,
	}, nil
}

// notifyApprovers tells the approval channel how to resume the suspended
// session. Best effort: an undeliverable notification leaves the checkpoint
// valid, the pending outcome still reaches the caller.
func (e *Engine) notifyApprovers(ctx context.Context, sess *session, checkpoint *entity.SessionCheckpoint) {
	message := fmt.Sprintf(
		"Incident %s requires approval for %s (script %s). Reply with: resume hitl %s",
		sess.incidentID,
		checkpoint.PendingAction.Tool,
		stringArg(checkpoint.PendingAction.Args, "script"),
		checkpoint.SessionID,
	)
	_, err := e.dispatcher.Invoke(ctx, sess.incidentID, entity.ToolCall{
		Tool: ToolNotify,
		Args: map[string]any{
			"channel": e.notifyChannel,
			"message": message,
		},
	})
	if err != nil {
		slog.Error("Failed to notify approvers",
			slog.String("session_id", checkpoint.SessionID),
			slog.Any("err", err),
		)
	}
}

func (e *Engine) summarize(ctx context.Context, sess *session, status entity.OutcomeStatus, reason string) (*entity.Outcome, error) {
	sess.transition(StateSummarizing)

	sctx, cancel := context.WithTimeout(ctx, e.summaryTimeout)
	defer cancel()

	result, err := e.summarizer.Summarize(sctx, sess.trace.String())
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			e.recordFailure(sess.incidentID, "", "summarization timeout")
			return nil, e.fail(sess, fmt.Errorf("%w: summarization: %v", ErrTimeout, err))
		}
		e.recordFailure(sess.incidentID, "", err.Error())
		return nil, e.fail(sess, err)
	}

	sess.transition(StateDone)
	outcome := &entity.Outcome{
		Status: status,
		Result: result,
		Reason: reason,
	}

	if e.exporter != nil && status == entity.OutcomeDone {
		e.exportReport(sess, result)
	}
	return outcome, nil
}

func (e *Engine) fail(sess *session, cause error) error {
	sess.transition(StateFailed)
	slog.Error("Session failed",
		slog.String("incident_id", sess.incidentID),
		slog.Any("err", cause),
	)
	return cause
}

// recordFailure persists an error action outside the (possibly expired)
// execution context so timeouts remain visible in the audit trail.
func (e *Engine) recordFailure(incidentID, tool, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := entity.ActionEntry{
		Type:      entity.ActionTypeError,
		Tool:      tool,
		Output:    map[string]any{"error": detail},
		Timestamp: time.Now().UTC(),
	}
	if _, err := e.repo.AppendActions(ctx, incidentID, []entity.ActionEntry{entry}); err != nil {
		slog.Error("Failed to persist failure action",
			slog.String("incident_id", incidentID),
			slog.Any("err", err),
		)
	}
}

// bindArgs fills a planned step's arguments from the payload and the
// outputs of earlier steps.
func (e *Engine) bindArgs(ctx context.Context, sess *session, call entity.ToolCall) (entity.ToolCall, error) {
	switch call.Tool {
	case ToolCreateTicket:
		comment := e.commentFor(ctx, sess)
		return entity.ToolCall{
			Tool: call.Tool,
			Args: map[string]any{
				"title":    fmt.Sprintf("Incident %s: %s", sess.incidentID, titleFor(sess.payload)),
				"comment":  comment,
				"severity": severityFor(sess.payload),
			},
		}, nil

	case ToolResolveTicket:
		return entity.ToolCall{
			Tool: call.Tool,
			Args: map[string]any{
				"ticket_id": sess.values["ticket_id"],
				"comment":   e.commentFor(ctx, sess),
			},
		}, nil

	case ToolNotify:
		verb := "updated"
		switch entity.NormalizeStatus(StatusFrom(sess.payload)) {
		case entity.StatusOpen:
			verb = "created"
		case entity.StatusResolve:
			verb = "resolved"
		}
		message := fmt.Sprintf("Incident %s: ticket %s %s", sess.incidentID, sess.values["ticket_id"], verb)
		return entity.ToolCall{
			Tool: call.Tool,
			Args: map[string]any{
				"channel": e.notifyChannel,
				"message": message,
			},
		}, nil

	default:
		return call, nil
	}
}

// commentFor generates the ticket comment once per session.
func (e *Engine) commentFor(ctx context.Context, sess *session) string {
	if comment, ok := sess.values["comment"]; ok {
		return comment
	}
	comment, err := e.summarizer.GenerateComment(ctx, sess.payload)
	if err != nil || comment == "" {
		comment = fmt.Sprintf("Automated handling of incident %s (status %s)", sess.incidentID, StatusFrom(sess.payload))
	}
	sess.values["comment"] = comment
	sess.tracef("comment: %s", comment)
	return comment
}

func (e *Engine) exportReport(sess *session, result *entity.EventResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC()
	title := fmt.Sprintf("incident-%s-%s", sess.incidentID, now.Format("20060102-150405"))
	body := report.Render(
		sess.incidentID,
		now.Format(time.RFC3339),
		result.EventType,
		result.TicketID,
		result.Comment,
		sess.trace.String(),
	)
	if err := e.exporter.ExportReport(ctx, title, body); err != nil {
		slog.Error("Failed to export incident report",
			slog.String("incident_id", sess.incidentID),
			slog.Any("err", err),
		)
	}
}

func planString(plan []entity.ToolCall) string {
	names := make([]string, len(plan))
	for i, call := range plan {
		names[i] = call.Tool
	}
	return strings.Join(names, " -> ")
}

func titleFor(payload map[string]any) string {
	for _, key := range []string{"trigger", "problem", "event_name", "message"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return StatusFrom(payload)
}

func severityFor(payload map[string]any) string {
	for _, key := range []string{"severity", "priority"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return "high"
}
