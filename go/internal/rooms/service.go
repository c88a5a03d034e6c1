package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies; every request here is a few fields.
const maxBodyBytes = 64 << 10

// RoomServiceName is the fully-qualified name of the room service
const RoomServiceName = "rooms.v1.RoomService"

// Procedure paths of the room service
const (
	CreateRoomProcedure   = "/rooms.v1.RoomService/CreateRoom"
	JoinRoomProcedure     = "/rooms.v1.RoomService/JoinRoom"
	OpenEnvelopeProcedure = "/rooms.v1.RoomService/OpenEnvelope"
	GetRoomProcedure      = "/rooms.v1.RoomService/GetRoom"
	DeleteRoomProcedure   = "/rooms.v1.RoomService/DeleteRoom"
)

// RoomsApp is what the service layer needs from the app layer
type RoomsApp interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error)
	JoinRoom(ctx context.Context, code string, req JoinRoomRequest) (*JoinRoomResponse, error)
	OpenEnvelope(ctx context.Context, code string, req OpenEnvelopeRequest) (*OpenEnvelopeResponse, error)
	RoomState(ctx context.Context, code string) (*models.RoomState, error)
	DeleteRoom(ctx context.Context, code, requesterID string) error
}

// Service implements the RoomService connect procedures
type Service struct {
	app RoomsApp
}

// NewService creates a new rooms service
func NewService(app RoomsApp) *Service {
	return &Service{
		app: app,
	}
}

// JSONCodec carries room messages as plain JSON. It is registered under
// the "json" name, so it serves application/json requests.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// NewRoomServiceHandler builds a handler serving every room procedure and
// returns the path to mount it on.
func NewRoomServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithReadMaxBytes(maxBodyBytes),
	}, opts...)

	createRoom := connect.NewUnaryHandler(CreateRoomProcedure, svc.CreateRoom, opts...)
	joinRoom := connect.NewUnaryHandler(JoinRoomProcedure, svc.JoinRoom, opts...)
	openEnvelope := connect.NewUnaryHandler(OpenEnvelopeProcedure, svc.OpenEnvelope, opts...)
	getRoom := connect.NewUnaryHandler(GetRoomProcedure, svc.GetRoom,
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
		connect.WithHandlerOptions(opts...),
	)
	deleteRoom := connect.NewUnaryHandler(DeleteRoomProcedure, svc.DeleteRoom, opts...)

	return "/" + RoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CreateRoomProcedure:
			createRoom.ServeHTTP(w, r)
		case JoinRoomProcedure:
			joinRoom.ServeHTTP(w, r)
		case OpenEnvelopeProcedure:
			openEnvelope.ServeHTTP(w, r)
		case GetRoomProcedure:
			getRoom.ServeHTTP(w, r)
		case DeleteRoomProcedure:
			deleteRoom.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CreateRoom creates a room and, if asked, joins its creator
func (s *Service) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error) {
	resp, err := s.app.CreateRoom(ctx, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(resp), nil
}

// JoinRoom adds a participant to a room
func (s *Service) JoinRoom(ctx context.Context, req *connect.Request[JoinRoomRequest]) (*connect.Response[JoinRoomResponse], error) {
	resp, err := s.app.JoinRoom(ctx, req.Msg.RoomCode, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(resp), nil
}

// OpenEnvelope draws an envelope for a participant outside of a race
func (s *Service) OpenEnvelope(ctx context.Context, req *connect.Request[OpenEnvelopeRequest]) (*connect.Response[OpenEnvelopeResponse], error) {
	resp, err := s.app.OpenEnvelope(ctx, req.Msg.RoomCode, *req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(resp), nil
}

// GetRoom returns the full room state
func (s *Service) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[models.RoomState], error) {
	state, err := s.app.RoomState(ctx, req.Msg.RoomCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(state), nil
}

// DeleteRoom closes a room on behalf of its creator
func (s *Service) DeleteRoom(ctx context.Context, req *connect.Request[DeleteRoomRequest]) (*connect.Response[DeleteRoomResponse], error) {
	if err := s.app.DeleteRoom(ctx, req.Msg.RoomCode, req.Msg.RequesterID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DeleteRoomResponse{}), nil
}

// ErrorCode maps a rooms error to a connect code and a client message
func ErrorCode(err error) (connect.Code, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return connect.CodeInvalidArgument, err.Error()
	case errors.Is(err, models.ErrRoomNotFound):
		return connect.CodeNotFound, "Room not found"
	case errors.Is(err, ErrParticipantNotFound):
		return connect.CodeNotFound, "Participant not found"
	case errors.Is(err, ErrRoomFull):
		return connect.CodeFailedPrecondition, "Room is full"
	case errors.Is(err, ErrWrongRoom):
		return connect.CodeInvalidArgument, "Wrong room"
	case errors.Is(err, ErrAlreadyOpened):
		return connect.CodeAlreadyExists, "Already opened an envelope"
	case errors.Is(err, ErrNoEnvelopesLeft):
		return connect.CodeFailedPrecondition, "No envelopes left"
	case errors.Is(err, ErrInvalidHost):
		return connect.CodePermissionDenied, "Invalid host or room"
	case errors.Is(err, ErrInvalidSubscriber):
		return connect.CodePermissionDenied, "Invalid participant or room"
	case errors.Is(err, ErrNotRoomCreator):
		return connect.CodePermissionDenied, "Only the room creator can close the room"
	default:
		return connect.CodeInternal, "Internal server error"
	}
}

func toConnectError(err error) error {
	code, msg := ErrorCode(err)
	if code == connect.CodeInternal {
		log.Error().Err(err).Msg("room request failed")
	}
	return connect.NewError(code, errors.New(msg))
}
