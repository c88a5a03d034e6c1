package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/envelope-race/go/internal/race/outbox/db"
	"github.com/sqlc-dev/pqtype"
)

// ErrEventNotFound is returned when an event is unknown or already sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

type Repository struct {
	queries *db.Queries
}

func NewRepository(queries *db.Queries) *Repository {
	return &Repository{
		queries: queries,
	}
}

// Insert writes an outbox row using dbtx, which is normally the caller's
// transaction so the event commits together with the state change it describes.
func Insert(ctx context.Context, dbtx db.DBTX, roomCode, eventType string, payload any, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	meta := pqtype.NullRawMessage{}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal %s metadata: %w", eventType, err)
		}
		meta = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	err = db.New(dbtx).InsertOutboxEvent(ctx, db.InsertOutboxEventParams{
		ID:        uuid.New(),
		RoomCode:  roomCode,
		EventType: eventType,
		Payload:   data,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.queries.FetchUnsentOutbox(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	events := make([]OutboxEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, rowToEvent(row))
	}
	return events, nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row, err := r.queries.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}

	event := rowToEvent(row)
	return &event, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if err := r.queries.MarkOutboxSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	n, err := r.queries.CountPendingOutbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return int(n), nil
}

func rowToEvent(row db.RaceOutbox) OutboxEvent {
	event := OutboxEvent{
		ID:        row.ID,
		RoomCode:  row.RoomCode,
		EventType: row.EventType,
		Payload:   row.Payload,
		CreatedAt: row.CreatedAt,
	}
	if row.Metadata.Valid {
		// metadata is advisory; a malformed blob is dropped rather than blocking the event
		_ = json.Unmarshal(row.Metadata.RawMessage, &event.Metadata)
	}
	return event
}
