package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinela/domain/entity"
	"sentinela/domain/repository"
)

// ------------------------
// Mock repositories
// ------------------------
type memoryRepo struct {
	mu          sync.Mutex
	incidents   map[string]*entity.Incident
	checkpoints map[string]*entity.SessionCheckpoint
	appendErr   error
	upsertErr   error
	findTktErr  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		incidents:   map[string]*entity.Incident{},
		checkpoints: map[string]*entity.SessionCheckpoint{},
	}
}

func (m *memoryRepo) UpsertIncident(_ context.Context, incidentID string, update entity.IncidentUpdate) (*entity.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	now := time.Now().UTC()
	incident, ok := m.incidents[incidentID]
	if !ok {
		incident = &entity.Incident{IncidentID: incidentID, CreatedAt: now}
		m.incidents[incidentID] = incident
	}
	incident.UpdatedAt = now
	if update.RawPayload != nil {
		incident.RawPayload = update.RawPayload
	}
	if update.Status != nil {
		incident.Status = *update.Status
	}
	// first writer wins, same as the store's if_not_exists
	if update.TicketID != nil && incident.TicketID == "" {
		incident.TicketID = *update.TicketID
	}
	copied := *incident
	return &copied, nil
}

func (m *memoryRepo) AppendActions(_ context.Context, incidentID string, entries []entity.ActionEntry) (*entity.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}

	incident, ok := m.incidents[incidentID]
	if !ok {
		incident = &entity.Incident{IncidentID: incidentID, CreatedAt: time.Now().UTC()}
		m.incidents[incidentID] = incident
	}
	incident.Actions = append(incident.Actions, entries...)
	incident.UpdatedAt = time.Now().UTC()
	copied := *incident
	return &copied, nil
}

func (m *memoryRepo) FindIncidentByID(_ context.Context, incidentID string) (*entity.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[incidentID]
	if !ok {
		return nil, repository.ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (m *memoryRepo) FindTicketByIncident(_ context.Context, incidentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findTktErr != nil {
		return "", m.findTktErr
	}
	incident, ok := m.incidents[incidentID]
	if !ok || incident.TicketID == "" {
		return "", repository.ErrTicketNotFound
	}
	return incident.TicketID, nil
}

func (m *memoryRepo) SaveCheckpoint(_ context.Context, checkpoint *entity.SessionCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *checkpoint
	m.checkpoints[checkpoint.SessionID] = &copied
	return nil
}

func (m *memoryRepo) FindCheckpoint(_ context.Context, sessionID string) (*entity.SessionCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	checkpoint, ok := m.checkpoints[sessionID]
	if !ok {
		return nil, repository.ErrCheckpointNotFound
	}
	copied := *checkpoint
	return &copied, nil
}

func (m *memoryRepo) DeleteCheckpoint(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, sessionID)
	return nil
}

func (m *memoryRepo) actions(incidentID string) []entity.ActionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[incidentID]
	if !ok {
		return nil
	}
	return append([]entity.ActionEntry{}, incident.Actions...)
}

func (m *memoryRepo) actionsOfType(incidentID string, actionType entity.ActionType) []entity.ActionEntry {
	var matched []entity.ActionEntry
	for _, a := range m.actions(incidentID) {
		if a.Type == actionType {
			matched = append(matched, a)
		}
	}
	return matched
}

// ------------------------
// Mock tools
// ------------------------
type fakeTicketer struct {
	mu           sync.Mutex
	nextTicketID string
	createCalls  int
	resolveCalls int
	createErr    error
	blockCreate  bool
}

func (f *fakeTicketer) CreateTicket(ctx context.Context, title, comment, severity string) (string, error) {
	f.mu.Lock()
	f.createCalls++
	blocked := f.blockCreate
	f.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.nextTicketID, nil
}

func (f *fakeTicketer) ResolveTicket(_ context.Context, ticketID, comment string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	return "resolved", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
	calls    int
	// errFromCall makes delivery fail starting with the call of that
	// ordinal, so earlier plan steps still go through
	errFromCall int
}

func (f *fakeNotifier) Notify(_ context.Context, channel, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if f.errFromCall > 0 && f.calls >= f.errFromCall {
		return false, fmt.Errorf("channel unreachable")
	}
	f.messages = append(f.messages, message)
	return true, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRunner) RunScript(_ context.Context, script, host string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "Automation executed!", nil
}
