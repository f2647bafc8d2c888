package ws

import (
	"context"
	"net/http"

	"nexus/internal/logging"
	"nexus/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TokenResolver maps a login token to a user id.
type TokenResolver interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	hub      *Hub
	tokens   TokenResolver
	config   ConnectionConfig
	upgrader *websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(hub *Hub, tokens TokenResolver, config ConnectionConfig) *Server {
	return &Server{
		hub:    hub,
		tokens: tokens,
		config: config,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
		log: logging.For("ws.server"),
	}
}

// HandleConnections upgrades the request and serves the socket until it
// closes. A request carrying a valid token is authenticated right away;
// otherwise the client sends an authenticate event.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := s.userFromRequest(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading to websocket")
		return
	}

	connID := uuid.NewString()
	conn := NewConnection(s.hub, ws, connID, s.config)
	if userID != "" {
		conn.hub = &preauthHub{Hub: s.hub, userID: userID}
	}

	if err := conn.Handle(r.Context()); err != nil {
		s.log.Debug().Err(err).Str("conn", connID).Msg("connection closed")
	}
}

func (s *Server) userFromRequest(r *http.Request) string {
	if s.tokens == nil {
		return ""
	}
	token := r.Header.Get("token")
	if token == "" {
		if cookie, err := r.Cookie("token"); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return ""
	}
	userID, err := s.tokens.GetUserID(token)
	if err != nil {
		return ""
	}
	return userID
}

// preauthHub authenticates the session as soon as it is connected.
type preauthHub struct {
	*Hub
	userID string
}

func (p *preauthHub) Connect(connID string, cancel context.CancelFunc) <-chan models.ServerEvent {
	out := p.Hub.Connect(connID, cancel)
	p.Hub.Dispatch(connID, models.Authenticate{UserID: p.userID})
	return out
}
