package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const createRoom = `-- name: CreateRoom :one
INSERT INTO rooms (id, code, name, max_people, race_duration, race_mode)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, code, name, max_people, race_duration, race_mode, creator_id, created_at
`

type CreateRoomParams struct {
	ID           uuid.UUID      `json:"id"`
	Code         string         `json:"code"`
	Name         sql.NullString `json:"name"`
	MaxPeople    int32          `json:"max_people"`
	RaceDuration int32          `json:"race_duration"`
	RaceMode     string         `json:"race_mode"`
}

func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	row := q.db.QueryRowContext(ctx, createRoom,
		arg.ID,
		arg.Code,
		arg.Name,
		arg.MaxPeople,
		arg.RaceDuration,
		arg.RaceMode,
	)
	var i Room
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Name,
		&i.MaxPeople,
		&i.RaceDuration,
		&i.RaceMode,
		&i.CreatorID,
		&i.CreatedAt,
	)
	return i, err
}

const getRoomByCode = `-- name: GetRoomByCode :one
SELECT id, code, name, max_people, race_duration, race_mode, creator_id, created_at
FROM rooms
WHERE code = $1
`

func (q *Queries) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	row := q.db.QueryRowContext(ctx, getRoomByCode, code)
	var i Room
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Name,
		&i.MaxPeople,
		&i.RaceDuration,
		&i.RaceMode,
		&i.CreatorID,
		&i.CreatedAt,
	)
	return i, err
}

const roomCodeExists = `-- name: RoomCodeExists :one
SELECT EXISTS(SELECT 1 FROM rooms WHERE code = $1)
`

func (q *Queries) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	row := q.db.QueryRowContext(ctx, roomCodeExists, code)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const setRoomCreator = `-- name: SetRoomCreator :exec
UPDATE rooms SET creator_id = $2 WHERE id = $1
`

type SetRoomCreatorParams struct {
	ID        uuid.UUID      `json:"id"`
	CreatorID sql.NullString `json:"creator_id"`
}

func (q *Queries) SetRoomCreator(ctx context.Context, arg SetRoomCreatorParams) error {
	_, err := q.db.ExecContext(ctx, setRoomCreator, arg.ID, arg.CreatorID)
	return err
}

const insertPoolAmount = `-- name: InsertPoolAmount :exec
INSERT INTO amount_pool (id, room_id, amount) VALUES ($1, $2, $3)
`

type InsertPoolAmountParams struct {
	ID     uuid.UUID `json:"id"`
	RoomID uuid.UUID `json:"room_id"`
	Amount int32     `json:"amount"`
}

func (q *Queries) InsertPoolAmount(ctx context.Context, arg InsertPoolAmountParams) error {
	_, err := q.db.ExecContext(ctx, insertPoolAmount, arg.ID, arg.RoomID, arg.Amount)
	return err
}

const createParticipant = `-- name: CreateParticipant :one
INSERT INTO participants (id, room_id, display_name, gender, age)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, room_id, display_name, gender, age, opened_at, join_seq, created_at
`

type CreateParticipantParams struct {
	ID          uuid.UUID     `json:"id"`
	RoomID      uuid.UUID     `json:"room_id"`
	DisplayName string        `json:"display_name"`
	Gender      string        `json:"gender"`
	Age         sql.NullInt32 `json:"age"`
}

func (q *Queries) CreateParticipant(ctx context.Context, arg CreateParticipantParams) (Participant, error) {
	row := q.db.QueryRowContext(ctx, createParticipant,
		arg.ID,
		arg.RoomID,
		arg.DisplayName,
		arg.Gender,
		arg.Age,
	)
	var i Participant
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.DisplayName,
		&i.Gender,
		&i.Age,
		&i.OpenedAt,
		&i.JoinSeq,
		&i.CreatedAt,
	)
	return i, err
}

const countParticipants = `-- name: CountParticipants :one
SELECT COUNT(*) FROM participants WHERE room_id = $1
`

func (q *Queries) CountParticipants(ctx context.Context, roomID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countParticipants, roomID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const lockRoom = `-- name: LockRoom :exec
SELECT id FROM rooms WHERE id = $1 FOR UPDATE
`

// LockRoom serializes writers on one room for the rest of the transaction.
func (q *Queries) LockRoom(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, lockRoom, id)
	return err
}

const getParticipantForUpdate = `-- name: GetParticipantForUpdate :one
SELECT id, room_id, display_name, gender, age, opened_at, join_seq, created_at
FROM participants
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetParticipantForUpdate(ctx context.Context, id uuid.UUID) (Participant, error) {
	row := q.db.QueryRowContext(ctx, getParticipantForUpdate, id)
	var i Participant
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.DisplayName,
		&i.Gender,
		&i.Age,
		&i.OpenedAt,
		&i.JoinSeq,
		&i.CreatedAt,
	)
	return i, err
}

const getParticipant = `-- name: GetParticipant :one
SELECT id, room_id, display_name, gender, age, opened_at, join_seq, created_at
FROM participants
WHERE id = $1
`

func (q *Queries) GetParticipant(ctx context.Context, id uuid.UUID) (Participant, error) {
	row := q.db.QueryRowContext(ctx, getParticipant, id)
	var i Participant
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.DisplayName,
		&i.Gender,
		&i.Age,
		&i.OpenedAt,
		&i.JoinSeq,
		&i.CreatedAt,
	)
	return i, err
}

const listParticipantsByRoom = `-- name: ListParticipantsByRoom :many
SELECT id, room_id, display_name, gender, age, opened_at, join_seq, created_at
FROM participants
WHERE room_id = $1
ORDER BY join_seq
`

func (q *Queries) ListParticipantsByRoom(ctx context.Context, roomID uuid.UUID) ([]Participant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipantsByRoom, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Participant
	for rows.Next() {
		var i Participant
		if err := rows.Scan(
			&i.ID,
			&i.RoomID,
			&i.DisplayName,
			&i.Gender,
			&i.Age,
			&i.OpenedAt,
			&i.JoinSeq,
			&i.CreatedAt,
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

const markParticipantOpened = `-- name: MarkParticipantOpened :exec
UPDATE participants SET opened_at = NOW() WHERE id = $1
`

func (q *Queries) MarkParticipantOpened(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markParticipantOpened, id)
	return err
}

const listAvailableAmounts = `-- name: ListAvailableAmounts :many
SELECT id, room_id, amount, taken_by_participant_id, taken_at
FROM amount_pool
WHERE room_id = $1 AND taken_by_participant_id IS NULL
ORDER BY amount DESC, id
FOR UPDATE
`

func (q *Queries) ListAvailableAmounts(ctx context.Context, roomID uuid.UUID) ([]AmountPool, error) {
	rows, err := q.db.QueryContext(ctx, listAvailableAmounts, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AmountPool
	for rows.Next() {
		var i AmountPool
		if err := rows.Scan(
			&i.ID,
			&i.RoomID,
			&i.Amount,
			&i.TakenByParticipantID,
			&i.TakenAt,
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

const countAmounts = `-- name: CountAmounts :one
SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE taken_by_participant_id IS NULL) AS available
FROM amount_pool
WHERE room_id = $1
`

type CountAmountsRow struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
}

func (q *Queries) CountAmounts(ctx context.Context, roomID uuid.UUID) (CountAmountsRow, error) {
	row := q.db.QueryRowContext(ctx, countAmounts, roomID)
	var i CountAmountsRow
	err := row.Scan(&i.Total, &i.Available)
	return i, err
}

const takeAmount = `-- name: TakeAmount :execrows
UPDATE amount_pool
SET taken_by_participant_id = $2, taken_at = NOW()
WHERE id = $1 AND taken_by_participant_id IS NULL
`

type TakeAmountParams struct {
	ID            uuid.UUID `json:"id"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

func (q *Queries) TakeAmount(ctx context.Context, arg TakeAmountParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, takeAmount, arg.ID, arg.ParticipantID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listActiveWishTexts = `-- name: ListActiveWishTexts :many
SELECT text FROM wishes
WHERE active AND (age_group = $1 OR age_group = 'all')
`

func (q *Queries) ListActiveWishTexts(ctx context.Context, ageGroup string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listActiveWishTexts, ageGroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		items = append(items, text)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createEnvelope = `-- name: CreateEnvelope :one
INSERT INTO envelopes (id, room_id, participant_id, amount, wish_text)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, room_id, participant_id, amount, wish_text, created_at
`

type CreateEnvelopeParams struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Amount        int32     `json:"amount"`
	WishText      string    `json:"wish_text"`
}

func (q *Queries) CreateEnvelope(ctx context.Context, arg CreateEnvelopeParams) (Envelope, error) {
	row := q.db.QueryRowContext(ctx, createEnvelope,
		arg.ID,
		arg.RoomID,
		arg.ParticipantID,
		arg.Amount,
		arg.WishText,
	)
	var i Envelope
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.ParticipantID,
		&i.Amount,
		&i.WishText,
		&i.CreatedAt,
	)
	return i, err
}

const listEnvelopesByRoom = `-- name: ListEnvelopesByRoom :many
SELECT e.participant_id, p.display_name, e.amount, e.wish_text
FROM envelopes e
JOIN participants p ON p.id = e.participant_id
WHERE e.room_id = $1
ORDER BY e.amount DESC, p.join_seq
`

type ListEnvelopesByRoomRow struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Amount        int32     `json:"amount"`
	WishText      string    `json:"wish_text"`
}

func (q *Queries) ListEnvelopesByRoom(ctx context.Context, roomID uuid.UUID) ([]ListEnvelopesByRoomRow, error) {
	rows, err := q.db.QueryContext(ctx, listEnvelopesByRoom, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListEnvelopesByRoomRow
	for rows.Next() {
		var i ListEnvelopesByRoomRow
		if err := rows.Scan(
			&i.ParticipantID,
			&i.DisplayName,
			&i.Amount,
			&i.WishText,
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

const deleteRoom = `-- name: DeleteRoom :execrows
DELETE FROM rooms WHERE id = $1
`

func (q *Queries) DeleteRoom(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteRoom, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
