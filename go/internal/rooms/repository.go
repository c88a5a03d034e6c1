package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/outbox"
	"github.com/mcdev12/envelope-race/go/internal/rooms/db"
	"github.com/mcdev12/envelope-race/go/internal/sqlutil"
	"github.com/mcdev12/envelope-race/go/internal/wishes"
)

// prizeQuerier is the part of the query set that hands out envelopes
type prizeQuerier interface {
	GetParticipantForUpdate(ctx context.Context, id uuid.UUID) (db.Participant, error)
	ListAvailableAmounts(ctx context.Context, roomID uuid.UUID) ([]db.AmountPool, error)
	TakeAmount(ctx context.Context, arg db.TakeAmountParams) (int64, error)
	ListActiveWishTexts(ctx context.Context, ageGroup string) ([]string, error)
	CreateEnvelope(ctx context.Context, arg db.CreateEnvelopeParams) (db.Envelope, error)
	MarkParticipantOpened(ctx context.Context, id uuid.UUID) error
}

var _ prizeQuerier = (*db.Queries)(nil)

// Repository implements room, participant and envelope data access
type Repository struct {
	db       *sql.DB
	queries  *db.Queries
	randIntN func(n int) int
}

// NewRepository creates a new rooms repository
func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		db:       database,
		queries:  db.New(database),
		randIntN: rand.IntN,
	}
}

// CreateRoom inserts the room, its prize pool and, if present, the racing
// creator in one transaction. The creator id is set either way.
func (r *Repository) CreateRoom(ctx context.Context, req NewRoom) (*models.Room, error) {
	var room db.Room
	err := sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		var err error
		room, err = q.CreateRoom(ctx, db.CreateRoomParams{
			ID:           uuid.New(),
			Code:         req.Code,
			Name:         sqlutil.ToSqlString(req.Name),
			MaxPeople:    int32(req.MaxPeople),
			RaceDuration: int32(req.RaceDuration),
			RaceMode:     string(req.RaceMode),
		})
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}

		for _, amount := range req.Amounts {
			err := q.InsertPoolAmount(ctx, db.InsertPoolAmountParams{
				ID:     uuid.New(),
				RoomID: room.ID,
				Amount: int32(amount),
			})
			if err != nil {
				return fmt.Errorf("insert pool amount: %w", err)
			}
		}

		creatorID := models.HostPlaceholderID(room.ID)
		if req.Creator != nil {
			p, err := q.CreateParticipant(ctx, participantParams(room.ID, *req.Creator))
			if err != nil {
				return fmt.Errorf("create creator participant: %w", err)
			}
			creatorID = p.ID.String()
		}

		room.CreatorID = sql.NullString{String: creatorID, Valid: true}
		return q.SetRoomCreator(ctx, db.SetRoomCreatorParams{ID: room.ID, CreatorID: room.CreatorID})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return dbRoomToModel(room), nil
}

// RoomCodeExists reports whether code is taken
func (r *Repository) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	exists, err := r.queries.RoomCodeExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("failed to check room code: %w", err)
	}
	return exists, nil
}

// GetRoomByCode retrieves a room by its code
func (r *Repository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := r.queries.GetRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return dbRoomToModel(room), nil
}

// JoinRoom adds a participant unless the room is at capacity. The room row
// is locked so concurrent joins cannot overfill it.
func (r *Repository) JoinRoom(ctx context.Context, room *models.Room, req NewParticipant) (*models.Participant, error) {
	var p db.Participant
	err := sqlutil.Run(ctx, r.db, r.queries.WithTx, func(q *db.Queries) error {
		if err := q.LockRoom(ctx, room.ID); err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		count, err := q.CountParticipants(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if int(count) >= room.MaxPeople {
			return ErrRoomFull
		}
		p, err = q.CreateParticipant(ctx, participantParams(room.ID, req))
		if err != nil {
			return fmt.Errorf("create participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dbParticipantToModel(p), nil
}

// GetParticipant retrieves a participant by ID
func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p, err := r.queries.GetParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return dbParticipantToModel(p), nil
}

// ListParticipants returns a room's participants in join order
func (r *Repository) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.queries.ListParticipantsByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	out := make([]models.Participant, len(rows))
	for i, row := range rows {
		out[i] = *dbParticipantToModel(row)
	}
	return out, nil
}

// ListEnvelopes returns a room's opened envelopes, highest amount first
func (r *Repository) ListEnvelopes(ctx context.Context, roomID uuid.UUID) ([]models.EnvelopeInfo, error) {
	rows, err := r.queries.ListEnvelopesByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}
	out := make([]models.EnvelopeInfo, len(rows))
	for i, row := range rows {
		out[i] = models.EnvelopeInfo{
			ParticipantID: row.ParticipantID.String(),
			DisplayName:   row.DisplayName,
			Amount:        int(row.Amount),
			WishText:      row.WishText,
		}
	}
	return out, nil
}

// CountAmounts returns the pool size and the number still unassigned
func (r *Repository) CountAmounts(ctx context.Context, roomID uuid.UUID) (total, available int, err error) {
	row, err := r.queries.CountAmounts(ctx, roomID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count amounts: %w", err)
	}
	return int(row.Total), int(row.Available), nil
}

// OpenEnvelope draws a random unassigned amount for the participant and
// records the envelope, all in one transaction.
func (r *Repository) OpenEnvelope(ctx context.Context, room *models.Room, participantID uuid.UUID) (*OpenEnvelopeResponse, error) {
	var result OpenEnvelopeResponse
	err := sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		q := r.queries.WithTx(tx)

		p, err := q.GetParticipantForUpdate(ctx, participantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrParticipantNotFound
			}
			return fmt.Errorf("get participant: %w", err)
		}
		if p.RoomID != room.ID {
			return ErrWrongRoom
		}
		if p.OpenedAt.Valid {
			return ErrAlreadyOpened
		}

		available, err := q.ListAvailableAmounts(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("list available amounts: %w", err)
		}
		if len(available) == 0 {
			return ErrNoEnvelopesLeft
		}
		selected := available[r.randIntN(len(available))]

		prize, err := handOut(ctx, q, room.ID, p, selected, 0)
		if err != nil {
			return err
		}
		result = OpenEnvelopeResponse{Amount: prize.Amount, WishText: prize.WishText}

		return outbox.Insert(ctx, tx, room.Code, events.OutboxEnvelopeOpened, events.EnvelopeOpenedPayload{
			RoomCode:      room.Code,
			ParticipantID: p.ID.String(),
			Amount:        prize.Amount,
			OpenedAt:      time.Now().UTC(),
		}, nil)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AssignPrizes hands the highest remaining amounts out in finish order and
// records a RaceCompleted outbox event in the same transaction. Ids that
// are unknown, belong to another room or already hold a prize are skipped.
func (r *Repository) AssignPrizes(ctx context.Context, room *models.Room, finishOrder []uuid.UUID, metadata map[string]string) ([]Prize, error) {
	var prizes []Prize
	err := sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		q := r.queries.WithTx(tx)

		var err error
		prizes, err = allocatePrizes(ctx, q, room.ID, finishOrder)
		if err != nil {
			return err
		}

		payload := events.RaceCompletedPayload{
			RoomCode:    room.Code,
			FinishOrder: make([]string, len(finishOrder)),
			Prizes:      make([]events.PrizePayload, len(prizes)),
			CompletedAt: time.Now().UTC(),
		}
		for i, id := range finishOrder {
			payload.FinishOrder[i] = id.String()
		}
		for i, p := range prizes {
			payload.Prizes[i] = events.PrizePayload{
				ParticipantID: p.ParticipantID.String(),
				Position:      p.Position,
				Amount:        p.Amount,
			}
		}
		return outbox.Insert(ctx, tx, room.Code, events.OutboxRaceCompleted, payload, metadata)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assign prizes: %w", err)
	}
	return prizes, nil
}

// DeleteRoom removes the room with its participants, pool and envelopes,
// and records a RoomDeleted outbox event in the same transaction.
func (r *Repository) DeleteRoom(ctx context.Context, room *models.Room) error {
	err := sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		deleted, err := r.queries.WithTx(tx).DeleteRoom(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		if deleted == 0 {
			return models.ErrRoomNotFound
		}

		return outbox.Insert(ctx, tx, room.Code, events.OutboxRoomDeleted, events.RoomDeletedPayload{
			RoomCode:  room.Code,
			DeletedAt: time.Now().UTC(),
		}, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// allocatePrizes walks finishOrder and gives each eligible finisher the
// highest amount still in the pool. It stops when the pool is empty.
func allocatePrizes(ctx context.Context, q prizeQuerier, roomID uuid.UUID, finishOrder []uuid.UUID) ([]Prize, error) {
	available, err := q.ListAvailableAmounts(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list available amounts: %w", err)
	}

	var prizes []Prize
	next := 0
	for i, id := range finishOrder {
		if next >= len(available) {
			break
		}
		p, err := q.GetParticipantForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("get participant: %w", err)
		}
		if p.RoomID != roomID || p.OpenedAt.Valid {
			continue
		}

		prize, err := handOut(ctx, q, roomID, p, available[next], i+1)
		if err != nil {
			return nil, err
		}
		next++
		prizes = append(prizes, prize)
	}
	return prizes, nil
}

// handOut marks amount as taken by p, creates the envelope with a wish for
// p's age group and marks p as opened.
func handOut(ctx context.Context, q prizeQuerier, roomID uuid.UUID, p db.Participant, amount db.AmountPool, position int) (Prize, error) {
	taken, err := q.TakeAmount(ctx, db.TakeAmountParams{ID: amount.ID, ParticipantID: p.ID})
	if err != nil {
		return Prize{}, fmt.Errorf("take amount: %w", err)
	}
	if taken == 0 {
		return Prize{}, fmt.Errorf("amount %s already taken", amount.ID)
	}

	group := wishes.AgeGroupFor(sqlutil.FromSqlInt32(p.Age))
	texts, err := q.ListActiveWishTexts(ctx, string(group))
	if err != nil {
		return Prize{}, fmt.Errorf("list wishes: %w", err)
	}
	wishText := wishes.Pick(texts)

	_, err = q.CreateEnvelope(ctx, db.CreateEnvelopeParams{
		ID:            uuid.New(),
		RoomID:        roomID,
		ParticipantID: p.ID,
		Amount:        amount.Amount,
		WishText:      wishText,
	})
	if err != nil {
		return Prize{}, fmt.Errorf("create envelope: %w", err)
	}

	if err := q.MarkParticipantOpened(ctx, p.ID); err != nil {
		return Prize{}, fmt.Errorf("mark participant opened: %w", err)
	}

	return Prize{
		ParticipantID: p.ID,
		Position:      position,
		Amount:        int(amount.Amount),
		WishText:      wishText,
	}, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func participantParams(roomID uuid.UUID, p NewParticipant) db.CreateParticipantParams {
	return db.CreateParticipantParams{
		ID:          uuid.New(),
		RoomID:      roomID,
		DisplayName: p.DisplayName,
		Gender:      string(p.Gender),
		Age:         sqlutil.ToSqlInt32(p.Age),
	}
}

func dbRoomToModel(room db.Room) *models.Room {
	return &models.Room{
		ID:           room.ID,
		Code:         room.Code,
		Name:         sqlutil.FromSqlStringPtr(room.Name),
		MaxPeople:    int(room.MaxPeople),
		RaceDuration: int(room.RaceDuration),
		RaceMode:     models.RaceMode(room.RaceMode),
		CreatorID:    sqlutil.FromSqlStringPtr(room.CreatorID),
		CreatedAt:    room.CreatedAt,
	}
}

func dbParticipantToModel(p db.Participant) *models.Participant {
	return &models.Participant{
		ID:          p.ID,
		RoomID:      p.RoomID,
		DisplayName: p.DisplayName,
		Gender:      models.Gender(p.Gender),
		Age:         sqlutil.FromSqlInt32(p.Age),
		OpenedAt:    sqlutil.FromSqlTime(p.OpenedAt),
		CreatedAt:   p.CreatedAt,
	}
}
