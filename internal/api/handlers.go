package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nexus/internal/auth"
	"nexus/internal/chat"
	"nexus/internal/content"
	"nexus/internal/logging"
	"nexus/internal/models"
	"nexus/internal/storage"
	"nexus/internal/ws"

	"github.com/rs/zerolog"
)

const (
	historyLimit = 100
	searchLimit  = 30
)

type API struct {
	auth    *auth.AuthService
	hub     *ws.Hub
	storage *storage.BboltStorage
	history *chat.History
	log     zerolog.Logger
}

func New(auth *auth.AuthService, hub *ws.Hub, storage *storage.BboltStorage, history *chat.History) *API {
	return &API{
		auth:    auth,
		hub:     hub,
		storage: storage,
		history: history,
		log:     logging.For("api"),
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, _ := a.auth.Login(req)
	if !loginResp.Success {
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := a.getToken(r)
	if token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.auth.Register(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]models.User{"user": user})
	case errors.Is(err, models.ErrInvalidInput):
		msg := strings.TrimPrefix(err.Error(), models.ErrInvalidInput.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, models.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Username already taken")
	default:
		writeStoreError(w, err)
	}
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.storage.GetUser(userIDFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type profileRequest struct {
	Avatar string `json:"avatar"`
	Color  string `json:"color"`
}

// UpdateProfileHandler stores new profile fields and pushes them to every
// live session.
func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := userIDFrom(r)
	current, err := a.storage.GetUser(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	avatar := strings.TrimSpace(content.StripTags(req.Avatar))
	if avatar == "" {
		avatar = current.Avatar
	}
	color := req.Color
	if color == "" {
		color = current.Color
	}
	if !content.ValidateColor(color) {
		writeError(w, http.StatusBadRequest, "Color must look like #rrggbb")
		return
	}

	user, err := a.storage.UpdateProfile(userID, avatar, color)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	a.hub.UpdateProfile(user)
	writeJSON(w, http.StatusOK, map[string]models.User{"user": user})
}

func (a *API) ChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels, err := a.storage.ListChannels()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// MessagesHandler returns the recent history of a channel. DM history is
// only visible to its two members.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")
	ch, err := a.storage.GetChannel(channelID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ch.IsDM {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if member, err := a.storage.IsChannelMember(ch.ID, userID); err != nil || !member {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
	}

	messages, err := a.history.Recent(ch.ID, historyLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.storage.ListUsers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.storage.SearchUsers(r.URL.Query().Get("q"), searchLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	friends, err := a.storage.ListFriends(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// RequestsHandler lists incoming friend requests. Users only see their own.
func (a *API) RequestsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != userIDFrom(r) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}
	requests, err := a.storage.ListRequests(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

type dmRequest struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

type dmResponse struct {
	Channel  models.Channel   `json:"channel"`
	Messages []models.Message `json:"messages"`
}

// DMHandler opens the direct-message channel between two users, creating it
// on first use. The caller must be one of them.
func (a *API) DMHandler(w http.ResponseWriter, r *http.Request) {
	var req dmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID := userIDFrom(r)
	if req.UserA != userID && req.UserB != userID {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	ch, err := a.storage.EnsureDM(req.UserA, req.UserB)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	messages, err := a.history.Recent(ch.ID, historyLimit)
	if err != nil {
		writeStoreError(w, fmt.Errorf("dm %s history: %w", ch.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, dmResponse{Channel: ch, Messages: messages})
}

func (a *API) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.Online())
}

func (a *API) VoiceRoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.VoiceRooms())
}
