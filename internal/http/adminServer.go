package http

import (
	"context"
	"net/http"
	"sync"

	"nexus/internal/api"
	"nexus/internal/auth"
	"nexus/internal/logging"
	"nexus/internal/ws"

	"github.com/rs/zerolog"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewAdminServer(authService *auth.AuthService, hub *ws.Hub, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, hub)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/sessions", adminHandler.SessionsHandler)
	mux.HandleFunc("POST /admin/sessions/{id}/disconnect", adminHandler.DisconnectHandler)

	if addr == "" {
		addr = "localhost:3002"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: logging.For("http.admin"),
	}
}

func (s *AdminServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("admin API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
