package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const insertOutboxEvent = `-- name: InsertOutboxEvent :exec
INSERT INTO race_outbox (id, room_code, event_type, payload, metadata)
VALUES ($1, $2, $3, $4, $5)
`

type InsertOutboxEventParams struct {
	ID        uuid.UUID             `json:"id"`
	RoomCode  string                `json:"room_code"`
	EventType string                `json:"event_type"`
	Payload   json.RawMessage       `json:"payload"`
	Metadata  pqtype.NullRawMessage `json:"metadata"`
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.ExecContext(ctx, insertOutboxEvent,
		arg.ID,
		arg.RoomCode,
		arg.EventType,
		arg.Payload,
		arg.Metadata,
	)
	return err
}

const fetchOutboxByID = `-- name: FetchOutboxByID :one
SELECT id, room_code, event_type, payload, metadata, created_at, sent_at
FROM race_outbox
WHERE id = $1 AND sent_at IS NULL
`

func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (RaceOutbox, error) {
	row := q.db.QueryRowContext(ctx, fetchOutboxByID, id)
	var i RaceOutbox
	err := row.Scan(
		&i.ID,
		&i.RoomCode,
		&i.EventType,
		&i.Payload,
		&i.Metadata,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const fetchUnsentOutbox = `-- name: FetchUnsentOutbox :many
SELECT id, room_code, event_type, payload, metadata, created_at, sent_at
FROM race_outbox
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]RaceOutbox, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RaceOutbox
	for rows.Next() {
		var i RaceOutbox
		if err := rows.Scan(
			&i.ID,
			&i.RoomCode,
			&i.EventType,
			&i.Payload,
			&i.Metadata,
			&i.CreatedAt,
			&i.SentAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markOutboxSent = `-- name: MarkOutboxSent :exec
UPDATE race_outbox SET sent_at = NOW() WHERE id = $1
`

func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, id)
	return err
}

const countPendingOutbox = `-- name: CountPendingOutbox :one
SELECT COUNT(*) FROM race_outbox WHERE sent_at IS NULL
`

func (q *Queries) CountPendingOutbox(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPendingOutbox)
	var count int64
	err := row.Scan(&count)
	return count, err
}
