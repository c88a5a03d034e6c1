package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/envelope-race/go/internal/rooms"
)

func setupServer(cfg *Config, services *Services, database *sql.DB) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)

	// Add health check endpoints
	setupHealthCheck(mux, services, database)

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Room service
	roomServicePath, roomServiceHandler := rooms.NewRoomServiceHandler(services.Rooms)
	mux.Handle(roomServicePath, roomServiceHandler)

	// Race websocket gateway
	services.Gateway.RegisterRoutes(mux)

	if services.OutboxHealth != nil {
		mux.Handle("GET /health/outbox", services.OutboxHealth)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

type infoResponse struct {
	ActiveSessions int  `json:"active_sessions"`
	ActiveRounds   int  `json:"active_rounds"`
	Connections    int  `json:"connections"`
	Subscribed     int  `json:"subscribed"`
	OutboxRelay    bool `json:"outbox_relay"`
}

func setupHealthCheck(mux *http.ServeMux, services *Services, database *sql.DB) {
	// Always 200: the race loop keeps working for rooms already loaded when
	// the database is briefly unavailable.
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "connected"}
		if err := database.PingContext(ctx); err != nil {
			resp.Database = "disconnected"
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		conns := services.Connections.GetConnectionStats()
		writeJSON(w, infoResponse{
			ActiveSessions: services.Store.Stats(),
			ActiveRounds:   services.Orchestrator.ActiveRounds(),
			Connections:    conns.TotalConnections,
			Subscribed:     conns.Subscribed,
			OutboxRelay:    services.Relay != nil && services.Relay.Running(),
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
