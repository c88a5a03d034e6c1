package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/envelope-race/go/internal/race/gateway"
	"github.com/mcdev12/envelope-race/go/internal/race/orchestrator"
	"github.com/mcdev12/envelope-race/go/internal/race/outbox"
	outboxdb "github.com/mcdev12/envelope-race/go/internal/race/outbox/db"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/mcdev12/envelope-race/go/internal/rooms"
)

type Services struct {
	Rooms        *rooms.Service
	Connections  *gateway.ConnectionManager
	Gateway      *gateway.WebSocketHandler
	Store        *session.Store
	Orchestrator *orchestrator.Orchestrator

	// nil when the outbox relay is disabled
	Relay        *outbox.Relay
	OutboxHealth *outbox.HealthChecker

	closers []func() error
}

func setupServices(ctx context.Context, database *sql.DB, dsn string, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	gatewayCfg := cfg.Gateway
	gatewayCfg.CheckOrigin = gateway.AllowedOrigins(cfg.Server.AllowedOrigins)
	connections := gateway.NewConnectionManager(gatewayCfg)

	roomsRepo := rooms.NewRepository(database)
	roomsApp := rooms.NewApp(roomsRepo, connections)
	roomsService := rooms.NewService(roomsApp)

	store := session.NewStore(
		session.WithClock(clock),
		session.WithGoal(cfg.Session.Goal),
		session.WithMinInputInterval(cfg.Session.MinInputInterval),
	)
	orch := orchestrator.NewOrchestrator(store, roomsApp, connections,
		orchestrator.WithClock(clock),
		orchestrator.WithConfig(cfg.Race),
	)
	roomsApp.SetRaceCanceller(orch)

	services := &Services{
		Rooms:        roomsService,
		Connections:  connections,
		Gateway:      gateway.NewWebSocketHandler(connections, roomsApp, orch),
		Store:        store,
		Orchestrator: orch,
	}

	if err := services.setupOutbox(ctx, database, dsn, cfg.Outbox, clock); err != nil {
		services.Close()
		return nil, err
	}
	return services, nil
}

func (s *Services) setupOutbox(ctx context.Context, database *sql.DB, dsn string, cfg OutboxConfig, clock clockwork.Clock) error {
	if !cfg.Enabled && !cfg.LogOnly {
		log.Info().Msg("outbox relay disabled")
		return nil
	}

	var (
		publisher outbox.Publisher = outbox.LogPublisher{}
		js        *outbox.JetStreamPublisher
	)
	if !cfg.LogOnly {
		var err error
		js, err = outbox.NewJetStreamPublisher(ctx, cfg.JetStream)
		if err != nil {
			return fmt.Errorf("create JetStream publisher: %w", err)
		}
		s.closers = append(s.closers, js.Close)
		publisher = js
	}

	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.DatabaseURL = dsn
	if cfg.FallbackInterval > 0 {
		relayCfg.FallbackInterval = cfg.FallbackInterval
	}

	listener, err := outbox.NewPQNotifier(relayCfg)
	if err != nil {
		return fmt.Errorf("create outbox listener: %w", err)
	}

	repo := outbox.NewRepository(outboxdb.New(database))
	s.Relay = outbox.NewRelay(repo, listener, publisher, relayCfg, clock)

	var natsConn *nats.Conn
	if js != nil {
		natsConn = js.Conn()
	}
	s.OutboxHealth = outbox.NewHealthChecker(s.Relay, database, repo, natsConn, cfg.AlertThreshold)

	log.Info().
		Bool("log_only", cfg.LogOnly).
		Str("stream", cfg.JetStream.StreamName).
		Msg("outbox relay configured")
	return nil
}

// Close releases external connections held by the services
func (s *Services) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}
