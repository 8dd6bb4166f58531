package repository

import (
	"context"
	"fmt"

	"sentinela/domain/entity"
)

var (
	ErrIncidentNotFound   = fmt.Errorf("incident not found")
	ErrTicketNotFound     = fmt.Errorf("ticket not found")
	ErrCheckpointNotFound = fmt.Errorf("checkpoint not found")
)

// IncidentRepository is the append-only event store for incident records.
type IncidentRepository interface {
	// UpsertIncident creates the record if absent or merges the given
	// fields into it. It never modifies the action history.
	UpsertIncident(context.Context, string, entity.IncidentUpdate) (*entity.Incident, error)
	// AppendActions grows the action history with a single atomic append.
	AppendActions(context.Context, string, []entity.ActionEntry) (*entity.Incident, error)
	FindIncidentByID(context.Context, string) (*entity.Incident, error)
	FindTicketByIncident(context.Context, string) (string, error)
}

// CheckpointRepository stores the durable suspend/resume snapshots.
type CheckpointRepository interface {
	SaveCheckpoint(context.Context, *entity.SessionCheckpoint) error
	FindCheckpoint(context.Context, string) (*entity.SessionCheckpoint, error)
	DeleteCheckpoint(context.Context, string) error
}

type Repository interface {
	IncidentRepository
	CheckpointRepository
}

type RepositoryFacade struct {
	IncidentRepository
	CheckpointRepository
}

func NewRepository(incidentRepository IncidentRepository, checkpointRepository CheckpointRepository) Repository {
	return RepositoryFacade{
		IncidentRepository:   incidentRepository,
		CheckpointRepository: checkpointRepository,
	}
}

// ReportExporter publishes a finished incident report to an external system.
type ReportExporter interface {
	ExportReport(ctx context.Context, title, body string) error
}
