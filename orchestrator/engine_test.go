package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinela/domain/entity"
	"sentinela/domain/repository"
	"sentinela/orchestrator"
)

type engineFixture struct {
	repo     *memoryRepo
	ticketer *fakeTicketer
	notifier *fakeNotifier
	runner   *fakeRunner
	engine   *orchestrator.Engine
}

func newEngineFixture(execTimeout time.Duration) *engineFixture {
	f := &engineFixture{
		repo:     newMemoryRepo(),
		ticketer: &fakeTicketer{nextTicketID: "123"},
		notifier: &fakeNotifier{},
		runner:   &fakeRunner{},
	}
	planner := orchestrator.NewPlanner(testScripts())
	dispatcher := orchestrator.NewDispatcher(f.repo, f.ticketer, f.notifier, f.runner)
	f.engine = orchestrator.NewEngine(
		f.repo,
		planner,
		dispatcher,
		repository.NewRuleSummarizer(),
		nil,
		"ops-alerts",
		execTimeout,
		time.Second,
	)
	return f
}

func TestEngine_OpenEventCreatesTicketAndNotifies(t *testing.T) {
	f := newEngineFixture(time.Second)

	outcome, err := f.engine.Execute(context.Background(), map[string]any{
		"incident_id": float64(1),
		"status":      "PROBLEM",
		"trigger":     "CPU load too high",
	})
	require.NoError(t, err)
	require.Equal(t, entity.OutcomeDone, outcome.Status)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "ticket_created", outcome.Result.EventType)
	assert.Equal(t, "123", outcome.Result.TicketID)

	require.Len(t, f.repo.actionsOfType("1", entity.ActionTypePayloadReceived), 1)
	require.Len(t, f.repo.actionsOfType("1", entity.ActionTypeTicketCreated), 1)
	require.Len(t, f.repo.actionsOfType("1", entity.ActionTypeNotificationSent), 1)

	incident, err := f.repo.FindIncidentByID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "123", incident.TicketID)
}

func TestEngine_ResolveEventClosesTheOpenedTicket(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, map[string]any{
		"incident_id": float64(1),
		"status":      "PROBLEM",
		"trigger":     "CPU load too high",
	})
	require.NoError(t, err)

	outcome, err := f.engine.Execute(ctx, map[string]any{
		"incident_id": float64(1),
		"status":      "RESOLVED",
	})
	require.NoError(t, err)
	require.Equal(t, entity.OutcomeDone, outcome.Status)
	assert.Equal(t, "ticket_resolved", outcome.Result.EventType)
	// the ticket opened by the first event, never a new one
	assert.Equal(t, "123", outcome.Result.TicketID)
	assert.Equal(t, 1, f.ticketer.createCalls)
	assert.Equal(t, 1, f.ticketer.resolveCalls)

	// resolution never alters the recorded ticket id
	incident, err := f.repo.FindIncidentByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "123", incident.TicketID)

	// two deliveries, two receipts
	assert.Len(t, f.repo.actionsOfType("1", entity.ActionTypePayloadReceived), 2)
}

func TestEngine_ResolveWithoutTicketTakesNoAction(t *testing.T) {
	f := newEngineFixture(time.Second)

	outcome, err := f.engine.Execute(context.Background(), map[string]any{
		"incident_id": float64(99),
		"status":      "RESOLVED",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeNoAction, outcome.Status)
	assert.Equal(t, "ticket not found", outcome.Reason)
	// resolve_ticket must never run with a fabricated id
	assert.Equal(t, 0, f.ticketer.resolveCalls)

	require.Len(t, f.repo.actionsOfType("99", entity.ActionTypeError), 1)
	require.Len(t, f.repo.actionsOfType("99", entity.ActionTypePayloadReceived), 1)
}

func TestEngine_UnknownStatusPersistsOnlyTheReceipt(t *testing.T) {
	f := newEngineFixture(time.Second)

	outcome, err := f.engine.Execute(context.Background(), map[string]any{
		"incident_id": float64(5),
		"status":      "maintenance",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeNoAction, outcome.Status)
	assert.Equal(t, "no_action", outcome.Result.EventType)

	actions := f.repo.actions("5")
	require.Len(t, actions, 1)
	assert.Equal(t, entity.ActionTypePayloadReceived, actions[0].Type)
}

func TestEngine_MissingIncidentIDIsAValidationError(t *testing.T) {
	f := newEngineFixture(time.Second)

	_, err := f.engine.Execute(context.Background(), map[string]any{"status": "PROBLEM"})
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
}

func automationPayload(id float64) map[string]any {
	return map[string]any{
		"incident_id": id,
		"status":      "PROBLEM",
		"trigger":     "mysql service stopped",
		"host":        "db-01",
	}
}

func TestEngine_AutomationStepSuspendsForApproval(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(2))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)
	assert.Equal(t, "session-2", outcome.SessionID)
	require.NotNil(t, outcome.RequestedAction)
	assert.Equal(t, "run_automation_script", outcome.RequestedAction.Tool)
	assert.Equal(t, "restart_service", outcome.RequestedAction.Args["script"])

	// steps before the gate already ran and were persisted, plus the
	// approval request went out
	assert.Len(t, f.repo.actionsOfType("2", entity.ActionTypeTicketCreated), 1)
	assert.Len(t, f.repo.actionsOfType("2", entity.ActionTypeNotificationSent), 2)
	assert.Equal(t, 0, f.runner.calls)

	checkpoint, err := f.repo.FindCheckpoint(ctx, "session-2")
	require.NoError(t, err)
	assert.Len(t, checkpoint.CompletedSteps, 2)
	assert.Len(t, checkpoint.Plan, 3)
}

func TestEngine_SuspendNotifiesApprovers(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(2))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)

	// the approval channel learns how to resume the session
	require.NotEmpty(t, f.notifier.messages)
	request := f.notifier.messages[len(f.notifier.messages)-1]
	assert.Contains(t, request, "resume hitl session-2")
	assert.Contains(t, request, "restart_service")

	// the request is in the audit trail like any other notification
	sent := f.repo.actionsOfType("2", entity.ActionTypeNotificationSent)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Input["message"], "resume hitl session-2")
}

func TestEngine_SuspendSurvivesAnUndeliverableNotification(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()
	// the plan's own notify step is the first call, the approval request is
	// the second
	f.notifier.errFromCall = 2

	outcome, err := f.engine.Execute(ctx, automationPayload(2))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)

	// the checkpoint is written even when the approvers were unreachable,
	// and the delivery failure is in the trail
	_, err = f.repo.FindCheckpoint(ctx, outcome.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, f.repo.actionsOfType("2", entity.ActionTypeError))

	resumed, err := f.engine.Resume(ctx, outcome.SessionID, entity.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeDone, resumed.Status)
	assert.Equal(t, 1, f.runner.calls)
}

func TestEngine_RejectSkipsTheGatedStep(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(2))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)

	resumed, err := f.engine.Resume(ctx, outcome.SessionID, entity.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeDone, resumed.Status)
	assert.Equal(t, "ticket_created", resumed.Result.EventType)

	// the automation tool never ran, the rejection is in the trail
	assert.Equal(t, 0, f.runner.calls)
	errs := f.repo.actionsOfType("2", entity.ActionTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Output["error"], "approval rejected")

	// the earlier steps did not run again
	assert.Equal(t, 1, f.ticketer.createCalls)
	assert.Len(t, f.repo.actionsOfType("2", entity.ActionTypeNotificationSent), 2)
}

func TestEngine_ApproveExecutesExactlyTheRemainingSteps(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(3))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)

	resumed, err := f.engine.Resume(ctx, outcome.SessionID, entity.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeDone, resumed.Status)

	assert.Equal(t, 1, f.runner.calls)
	assert.Len(t, f.repo.actionsOfType("3", entity.ActionTypeAutomationExecuted), 1)
	// no step before the gate re-executed
	assert.Equal(t, 1, f.ticketer.createCalls)
	assert.Len(t, f.repo.actionsOfType("3", entity.ActionTypeNotificationSent), 2)
}

func TestEngine_SecondResumeFindsNoSession(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(4))
	require.NoError(t, err)

	_, err = f.engine.Resume(ctx, outcome.SessionID, entity.DecisionApprove)
	require.NoError(t, err)

	_, err = f.engine.Resume(ctx, outcome.SessionID, entity.DecisionApprove)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrSessionNotFound)
	// nothing ran twice
	assert.Equal(t, 1, f.runner.calls)
}

func TestEngine_ResumeRejectsUnknownDecision(t *testing.T) {
	f := newEngineFixture(time.Second)

	_, err := f.engine.Resume(context.Background(), "session-1", entity.Decision("maybe"))
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
}

func TestEngine_SecondEventWhilePendingIsRejected(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	outcome, err := f.engine.Execute(ctx, automationPayload(6))
	require.NoError(t, err)
	require.Equal(t, entity.OutcomePendingApproval, outcome.Status)

	_, err = f.engine.Execute(ctx, automationPayload(6))
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrSessionPending)

	// the conflicting delivery still left its receipt and the rejection is
	// visible in the trail
	assert.Len(t, f.repo.actionsOfType("6", entity.ActionTypePayloadReceived), 2)
	errs := f.repo.actionsOfType("6", entity.ActionTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Output["error"], "pending approval")
	// and the original checkpoint is untouched
	_, err = f.repo.FindCheckpoint(ctx, outcome.SessionID)
	require.NoError(t, err)
}

func TestEngine_TimeoutFailsTheSessionAndKeepsHistory(t *testing.T) {
	f := newEngineFixture(50 * time.Millisecond)
	f.ticketer.blockCreate = true

	_, err := f.engine.Execute(context.Background(), map[string]any{
		"incident_id": float64(7),
		"status":      "PROBLEM",
		"trigger":     "CPU load too high",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrTimeout)

	// the receipt from before the timeout is still there
	assert.Len(t, f.repo.actionsOfType("7", entity.ActionTypePayloadReceived), 1)
	errs := f.repo.actionsOfType("7", entity.ActionTypeError)
	require.NotEmpty(t, errs)
}

func TestEngine_StoreOutageSurfacesAsStorageUnavailable(t *testing.T) {
	f := newEngineFixture(time.Second)
	f.repo.upsertErr = fmt.Errorf("dynamo is down")

	_, err := f.engine.Execute(context.Background(), map[string]any{
		"incident_id": float64(8),
		"status":      "PROBLEM",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrStorageUnavailable)
}

func TestEngine_ActionsOnlyEverGrow(t *testing.T) {
	f := newEngineFixture(time.Second)
	ctx := context.Background()

	var lastLen int
	payloads := []map[string]any{
		{"incident_id": float64(9), "status": "PROBLEM", "trigger": "CPU load too high"},
		{"incident_id": float64(9), "status": "PROBLEM", "trigger": "CPU load too high"},
		{"incident_id": float64(9), "status": "RESOLVED"},
		{"incident_id": float64(9), "status": "maintenance"},
	}
	for _, p := range payloads {
		_, err := f.engine.Execute(ctx, p)
		require.NoError(t, err)
		actions := f.repo.actions("9")
		assert.GreaterOrEqual(t, len(actions), lastLen)
		lastLen = len(actions)
	}
	assert.Len(t, f.repo.actionsOfType("9", entity.ActionTypePayloadReceived), len(payloads))
}
