package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/guregu/dynamo/v2"
	ttlcache "github.com/jellydator/ttlcache/v3"

	"sentinela/domain/entity"
)

var (
	incidentsTable = "incidents"
	sessionsTable  = "sessions"
)

func init() {
	if os.Getenv("DYNAMO_INCIDENTS_TABLE") != "" {
		incidentsTable = os.Getenv("DYNAMO_INCIDENTS_TABLE")
	}
	if os.Getenv("DYNAMO_SESSIONS_TABLE") != "" {
		sessionsTable = os.Getenv("DYNAMO_SESSIONS_TABLE")
	}
}

func NewDynamoDBRepository() (*DynamoDBRepository, error) {
	var db *dynamo.DB
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String("http://localhost:8000")
		},
		)

		err = setupDdbSchema(db)
		if err != nil {
			return nil, fmt.Errorf("failed to setup schema: %v", err)
		}
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg)
	}

	r := &DynamoDBRepository{
		db:          db,
		ticketCache: ttlcache.New(ttlcache.WithTTL[string, string](10 * time.Minute)),
	}
	go r.ticketCache.Start()
	return r, nil
}

func setupDdbSchema(db *dynamo.DB) error {
	for table, model := range map[string]any{
		incidentsTable: entity.Incident{},
		sessionsTable:  entity.SessionCheckpoint{},
	} {
		t := db.Table(table)
		_, err := t.Describe().Run(context.TODO())
		if err == nil {
			continue
		}
		input := db.CreateTable(table, model).Provision(10, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = input.Run(ctx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

type DynamoDBRepository struct {
	db          *dynamo.DB
	ticketCache *ttlcache.Cache[string, string]
}

// UpsertIncident creates or merges the record in a single update expression.
// created_at and ticket_id are written with if_not_exists so the first
// writer wins and resolution updates can never overwrite a ticket id.
func (r *DynamoDBRepository) UpsertIncident(ctx context.Context, incidentID string, update entity.IncidentUpdate) (*entity.Incident, error) {
	now := time.Now().UTC()
	q := r.db.Table(incidentsTable).Update("incident_id", incidentID).
		SetIfNotExists("created_at", now).
		SetIfNotExists("actions", []entity.ActionEntry{}).
		Set("updated_at", now)

	if update.RawPayload != nil {
		q = q.Set("raw_payload", update.RawPayload)
	}
	if update.Status != nil {
		q = q.Set("status", *update.Status)
	}
	if update.TicketID != nil {
		q = q.SetIfNotExists("ticket_id", *update.TicketID)
	}

	var incident entity.Incident
	if err := q.Value(ctx, &incident); err != nil {
		return nil, fmt.Errorf("failed to upsert incident %s: %w", incidentID, err)
	}
	return &incident, nil
}

// AppendActions grows the action history with one atomic list_append, so
// concurrent writers never interleave partial entries.
func (r *DynamoDBRepository) AppendActions(ctx context.Context, incidentID string, entries []entity.ActionEntry) (*entity.Incident, error) {
	if len(entries) == 0 {
		return r.FindIncidentByID(ctx, incidentID)
	}
	var incident entity.Incident
	err := r.db.Table(incidentsTable).Update("incident_id", incidentID).
		SetIfNotExists("created_at", time.Now().UTC()).
		Set("updated_at", time.Now().UTC()).
		Append("actions", entries).
		Value(ctx, &incident)
	if err != nil {
		return nil, fmt.Errorf("failed to append actions to incident %s: %w", incidentID, err)
	}
	return &incident, nil
}

func (r *DynamoDBRepository) FindIncidentByID(ctx context.Context, incidentID string) (*entity.Incident, error) {
	incident := &entity.Incident{}
	err := r.db.Table(incidentsTable).Get("incident_id", incidentID).One(ctx, incident)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, ErrIncidentNotFound
		}
		return nil, err
	}
	return incident, nil
}

func (r *DynamoDBRepository) FindTicketByIncident(ctx context.Context, incidentID string) (string, error) {
	if item := r.ticketCache.Get(incidentID); item != nil {
		return item.Value(), nil
	}

	incident, err := r.FindIncidentByID(ctx, incidentID)
	if err != nil {
		if err == ErrIncidentNotFound {
			return "", ErrTicketNotFound
		}
		return "", err
	}
	if incident.TicketID == "" {
		return "", ErrTicketNotFound
	}
	r.ticketCache.Set(incidentID, incident.TicketID, ttlcache.DefaultTTL)
	return incident.TicketID, nil
}

func (r *DynamoDBRepository) SaveCheckpoint(ctx context.Context, checkpoint *entity.SessionCheckpoint) error {
	return r.db.Table(sessionsTable).Put(checkpoint).Run(ctx)
}

func (r *DynamoDBRepository) FindCheckpoint(ctx context.Context, sessionID string) (*entity.SessionCheckpoint, error) {
	checkpoint := &entity.SessionCheckpoint{}
	err := r.db.Table(sessionsTable).Get("session_id", sessionID).One(ctx, checkpoint)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	return checkpoint, nil
}

func (r *DynamoDBRepository) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	return r.db.Table(sessionsTable).Delete("session_id", sessionID).Run(ctx)
}
