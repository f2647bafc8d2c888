package http

import (
	"context"
	"net/http"
	"sync"

	"nexus/internal/api"
	"nexus/internal/auth"
	"nexus/internal/chat"
	"nexus/internal/logging"
	"nexus/internal/storage"
	"nexus/internal/ws"

	"github.com/rs/zerolog"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewAPIServer(authService *auth.AuthService, hub *ws.Hub, storage *storage.BboltStorage, history *chat.History, wsConfig ws.ConnectionConfig, addr string) *APIServer {
	server := ws.NewServer(hub, authService, wsConfig)
	apiHandlers := api.New(authService, hub, storage, history)

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("POST /api/register", api.RequireSameOrigin(apiHandlers.RegisterHandler))
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("POST /api/users/me/profile", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateProfileHandler)))
	mux.HandleFunc("GET /api/channels", apiHandlers.ChannelsHandler)
	mux.HandleFunc("GET /api/channels/{id}/messages", apiHandlers.MessagesHandler)
	mux.HandleFunc("GET /api/users", apiHandlers.UsersHandler)
	mux.HandleFunc("GET /api/users/search", apiHandlers.SearchUsersHandler)
	mux.HandleFunc("GET /api/users/{id}/friends", apiHandlers.FriendsHandler)
	mux.HandleFunc("GET /api/users/{id}/requests", apiHandlers.RequireAuth(apiHandlers.RequestsHandler))
	mux.HandleFunc("POST /api/dm", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.DMHandler)))
	mux.HandleFunc("GET /api/online", apiHandlers.OnlineHandler)
	mux.HandleFunc("GET /api/voice/rooms", apiHandlers.VoiceRoomsHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/socket", server.HandleConnections)

	if addr == "" {
		addr = ":3001"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: logging.For("http.api"),
	}
}

func (s *APIServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
