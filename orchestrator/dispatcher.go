package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sentinela/domain/entity"
	"sentinela/domain/repository"
)

var (
	ErrToolExecution      = fmt.Errorf("tool execution failed")
	ErrStorageUnavailable = fmt.Errorf("event store unavailable")
)

// Dispatcher executes a named capability and records the invocation in the
// event store before the result is returned. The audit trail always
// reflects the side effects that actually happened.
type Dispatcher struct {
	repo     repository.IncidentRepository
	ticketer Ticketer
	notifier Notifier
	runner   AutomationRunner
}

func NewDispatcher(repo repository.IncidentRepository, ticketer Ticketer, notifier Notifier, runner AutomationRunner) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		ticketer: ticketer,
		notifier: notifier,
		runner:   runner,
	}
}

func actionTypeFor(tool string) entity.ActionType {
	switch tool {
	case ToolCreateTicket:
		return entity.ActionTypeTicketCreated
	case ToolResolveTicket:
		return entity.ActionTypeTicketResolved
	case ToolNotify:
		return entity.ActionTypeNotificationSent
	case ToolRunAutomation:
		return entity.ActionTypeAutomationExecuted
	default:
		return entity.ActionTypeError
	}
}

// Invoke runs one tool call. Retry policy belongs to the engine, not here.
func (d *Dispatcher) Invoke(ctx context.Context, incidentID string, call entity.ToolCall) (map[string]any, error) {
	output, err := d.run(ctx, incidentID, call)
	if err != nil {
		d.recordError(ctx, incidentID, call, err)
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, err
		}
		// the lookup's only collaborator is the store, so its failures are
		// storage failures, not tool failures
		if call.Tool == ToolFindTicket {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrToolExecution, call.Tool, err)
	}

	// The lookup is read-only. Mutating tools are persisted before the
	// result reaches the engine.
	if call.Tool != ToolFindTicket {
		entry := entity.ActionEntry{
			Type:      actionTypeFor(call.Tool),
			Tool:      call.Tool,
			Input:     call.Args,
			Output:    output,
			Timestamp: time.Now().UTC(),
		}
		if _, err := d.repo.AppendActions(ctx, incidentID, []entity.ActionEntry{entry}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	return output, nil
}

func (d *Dispatcher) run(ctx context.Context, incidentID string, call entity.ToolCall) (map[string]any, error) {
	switch call.Tool {
	case ToolCreateTicket:
		ticketID, err := d.ticketer.CreateTicket(ctx,
			stringArg(call.Args, "title"),
			stringArg(call.Args, "comment"),
			stringArg(call.Args, "severity"),
		)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ticket_id": ticketID, "status": "opened"}, nil

	case ToolResolveTicket:
		status, err := d.ticketer.ResolveTicket(ctx,
			stringArg(call.Args, "ticket_id"),
			stringArg(call.Args, "comment"),
		)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ticket_id": stringArg(call.Args, "ticket_id"), "status": status}, nil

	case ToolNotify:
		delivered, err := d.notifier.Notify(ctx,
			stringArg(call.Args, "channel"),
			stringArg(call.Args, "message"),
		)
		if err != nil {
			return nil, err
		}
		return map[string]any{"delivered": delivered}, nil

	case ToolFindTicket:
		ticketID, err := d.repo.FindTicketByIncident(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ticket_id": ticketID}, nil

	case ToolRunAutomation:
		status, err := d.runner.RunScript(ctx,
			stringArg(call.Args, "script"),
			stringArg(call.Args, "host"),
		)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": status}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Tool)
	}
}

// recordError appends the failure to the audit trail. Best effort: when the
// store itself is down there is nowhere left to write, so we log instead.
func (d *Dispatcher) recordError(ctx context.Context, incidentID string, call entity.ToolCall, cause error) {
	entry := entity.ActionEntry{
		Type:      entity.ActionTypeError,
		Tool:      call.Tool,
		Input:     call.Args,
		Output:    map[string]any{"error": cause.Error()},
		Timestamp: time.Now().UTC(),
	}
	if _, err := d.repo.AppendActions(ctx, incidentID, []entity.ActionEntry{entry}); err != nil {
		slog.Error("Failed to persist error action",
			slog.String("incident_id", incidentID),
			slog.String("tool", call.Tool),
			slog.Any("err", err),
		)
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}
