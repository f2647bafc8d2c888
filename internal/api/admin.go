package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"nexus/internal/auth"
	"nexus/internal/logging"
	"nexus/internal/models"
	"nexus/internal/ws"

	"github.com/rs/zerolog"
)

type AdminHandler struct {
	authService *auth.AuthService
	hub         *ws.Hub
	log         zerolog.Logger
}

func NewAdminHandler(authService *auth.AuthService, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		hub:         hub,
		log:         logging.For("api.admin"),
	}
}

type AddUserRequest struct {
	Username string `json:"username"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates an account with a generated password.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	user, password, err := h.authService.AddUser(req.Username)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrAlreadyExists):
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	h.log.Info().Str("username", user.Username).Msg("user added")
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.Username,
		Password: password,
	})
}

func (h *AdminHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Sessions())
}

// DisconnectHandler drops a live session. The full teardown runs as if the
// client had closed the socket.
func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	if !h.hub.Kick(connID) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	h.log.Info().Str("conn", connID).Msg("session disconnected by admin")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
