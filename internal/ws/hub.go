package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus/internal/chat"
	"nexus/internal/logging"
	"nexus/internal/models"
	"nexus/internal/presence"
	"nexus/internal/rooms"
	"nexus/internal/signal"
	"nexus/internal/voice"

	"github.com/rs/zerolog"
)

// Store is the persistence the hub consults while handling events.
type Store interface {
	GetUser(id string) (models.User, error)
	GetChannel(id string) (models.Channel, error)
	IsChannelMember(channelID, userID string) (bool, error)
	PersistMessage(channelID, authorID, content string) (string, int64, error)

	AreFriends(a, b string) (bool, error)
	AddFriendship(a, b string) error
	HasFriendRequest(fromID, toID string) (bool, error)
	CreateFriendRequest(fromID, toID string) (models.FriendRequest, error)
	GetFriendRequest(id string) (models.FriendRequest, error)
	DeleteFriendRequest(id string) error

	CreateChannel(ch models.Channel) (models.Channel, error)
	DeleteChannel(id string) error
}

// Publisher receives presence and voice room changes after they are applied.
type Publisher interface {
	PublishOnline(online []string)
	PublishVoiceRoom(roomID string, size int)
}

type Config struct {
	SendBuffer       int
	MaxMessageLength int
}

type session struct {
	connID      string
	user        *models.User
	out         chan models.ServerEvent
	cancel      context.CancelFunc
	connectedAt time.Time
	kicked      bool
}

// Hub owns every live session and the three registries. One mutex serializes
// event handling so that multi-registry steps such as disconnect teardown are
// observed as a single unit.
type Hub struct {
	config   Config
	store    Store
	history  *chat.History
	sessions map[string]*session

	presence *presence.Registry
	rooms    *rooms.Tracker
	voice    *voice.Service
	relay    *signal.Relay

	log zerolog.Logger
	now func() time.Time

	mu sync.Mutex
}

func NewHub(config Config, store Store, history *chat.History, publisher Publisher) *Hub {
	h := &Hub{
		config:   config,
		store:    store,
		history:  history,
		sessions: make(map[string]*session),
		log:      logging.For("ws.hub"),
		now:      time.Now,
	}

	out := outbox{h}
	h.presence = presence.NewRegistry(presence.NewBroadcaster(out, out, publisher))
	h.rooms = rooms.NewTracker(out)
	h.voice = voice.NewService(voice.NewRegistry(), out, h.rooms, publisher)
	h.relay = signal.NewRelay(out, out)
	return h
}

// Connect opens an unauthenticated session. cancel is invoked when the
// session has to be dropped from the server side.
func (h *Hub) Connect(connID string, cancel context.CancelFunc) <-chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.sessions[connID]; ok {
		h.teardownLocked(old)
		close(old.out)
	}

	s := &session{
		connID:      connID,
		out:         make(chan models.ServerEvent, h.config.SendBuffer),
		cancel:      cancel,
		connectedAt: h.now(),
	}
	h.sessions[connID] = s
	h.log.Debug().Str("conn", connID).Int("sessions", len(h.sessions)).Msg("connected")
	return s.out
}

// Disconnect destroys the session of connID. Voice, text room and presence
// entries are all removed before the lock is released.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	delete(h.sessions, connID)
	h.teardownLocked(s)
	close(s.out)

	h.log.Info().
		Str("conn", connID).
		Int("online", h.presence.Len()).
		Msg("disconnected")
}

// Kick cancels a session. The connection's own teardown calls Disconnect.
func (h *Hub) Kick(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Shutdown cancels every session. Each connection then tears itself down.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sessions {
		s.cancel()
	}
}

// Dispatch handles one inbound event. Events other than authenticate from an
// unauthenticated session are dropped.
func (h *Hub) Dispatch(connID string, ev models.ClientEvent) {
	switch e := ev.(type) {
	case models.Authenticate:
		h.authenticate(connID, e)
	case models.Malformed:
		h.notify(connID, "Malformed request")
	case models.JoinTextRoom:
		h.joinTextRoom(connID, e)
	case models.SendChatMessage:
		h.sendChatMessage(connID, e)
	case models.SetTyping:
		h.setTyping(connID, e)
	case models.JoinVoice:
		h.joinVoice(connID, e)
	case models.LeaveVoice:
		h.leaveVoice(connID, e)
	case models.VoiceSignal:
		h.voiceSignal(connID, e)
	case models.SetMuted:
		h.setMuted(connID, e)
	case models.SendFriendRequest:
		h.sendFriendRequest(connID, e)
	case models.AcceptFriendRequest:
		h.acceptFriendRequest(connID, e)
	case models.DeclineFriendRequest:
		h.declineFriendRequest(connID, e)
	case models.CreateChannel:
		h.createChannel(connID, e)
	case models.DeleteChannel:
		h.deleteChannel(connID, e)
	default:
		h.log.Error().Str("conn", connID).Msgf("unhandled event %T", ev)
	}
}

func (h *Hub) authenticate(connID string, e models.Authenticate) {
	if e.UserID == "" {
		return
	}
	user, err := h.store.GetUser(e.UserID)
	if err != nil {
		h.log.Debug().Err(err).Str("conn", connID).Msg("authenticate for unknown identity")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return
	}
	if s.user != nil {
		if s.user.ID != user.ID {
			h.teardownLocked(s)
		} else {
			h.sendSessionLocked(s)
			return
		}
	}

	if oldConn, ok := h.presence.ConnectionOf(user.ID); ok && oldConn != connID {
		if old, ok := h.sessions[oldConn]; ok {
			h.demoteLocked(old)
		}
	}

	s.user = &user
	h.presence.Register(user.ID, connID)
	h.sendSessionLocked(s)

	h.log.Info().
		Str("conn", connID).
		Str("user", user.Username).
		Int("online", h.presence.Len()).
		Msg("authenticated")
}

// demoteLocked moves a superseded session back to the unauthenticated state.
func (h *Hub) demoteLocked(s *session) {
	h.rooms.LeaveAll(s.connID)
	h.voice.HandleDisconnect(s.connID)
	s.user = nil
	outbox{h}.Send(s.connID, models.ErrorNotice{Message: "Signed in from another connection"})
}

// teardownLocked removes every registry entry of the session's identity.
func (h *Hub) teardownLocked(s *session) {
	h.rooms.LeaveAll(s.connID)
	h.voice.HandleDisconnect(s.connID)
	if s.user != nil {
		h.presence.Unregister(s.user.ID, s.connID)
		s.user = nil
	}
}

func (h *Hub) sendSessionLocked(s *session) {
	outbox{h}.Send(s.connID, models.SessionReady{
		ConnectionID: s.connID,
		User:         *s.user,
		Online:       h.presence.ListOnline(),
		VoiceRooms:   h.voice.Registry().Rooms(),
	})
}

// identity returns the authenticated user of connID.
func (h *Hub) identity(connID string) (models.User, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identityLocked(connID)
}

func (h *Hub) identityLocked(connID string) (models.User, bool) {
	s, ok := h.sessions[connID]
	if !ok || s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// stillLocked reports whether connID is still authenticated as userID after
// the lock was released for a store call.
func (h *Hub) stillLocked(connID, userID string) bool {
	user, ok := h.identityLocked(connID)
	return ok && user.ID == userID
}

func (h *Hub) notify(connID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	outbox{h}.Send(connID, models.ErrorNotice{Message: message})
}

// UpdateProfile pushes a profile change to every session and refreshes the
// snapshots held for the user's sessions and voice participants.
func (h *Hub) UpdateProfile(user models.User) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sessions {
		if s.user != nil && s.user.ID == user.ID {
			u := user
			s.user = &u
		}
	}
	h.voice.UpdateProfile(user)
	h.broadcastLocked(models.UserUpdated{User: user})
}

// broadcastLocked sends ev to every authenticated session.
func (h *Hub) broadcastLocked(ev models.ServerEvent) {
	out := outbox{h}
	for _, connID := range h.sortedSessionIDs() {
		if h.sessions[connID].user != nil {
			out.Send(connID, ev)
		}
	}
}

// Sessions lists every live session.
func (h *Hub) Sessions() []models.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	infos := make([]models.SessionInfo, 0, len(h.sessions))
	for _, connID := range h.sortedSessionIDs() {
		s := h.sessions[connID]
		info := models.SessionInfo{
			ConnectionID: connID,
			ConnectedAt:  s.connectedAt.Unix(),
		}
		if s.user != nil {
			info.UserID = s.user.ID
		}
		info.TextRoom, _ = h.rooms.RoomOf(connID)
		info.VoiceRoom, _ = h.voice.Registry().RoomOf(connID)
		infos = append(infos, info)
	}
	return infos
}

func (h *Hub) Online() []string {
	return h.presence.ListOnline()
}

func (h *Hub) VoiceRooms() []models.VoiceRoom {
	return h.voice.Registry().Rooms()
}

func (h *Hub) sortedSessionIDs() []string {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// outbox is the delivery side of the hub handed to the registries. Its
// methods expect h.mu to be held by the caller.
type outbox struct {
	h *Hub
}

// Send queues ev without blocking. A session whose buffer is full is
// cancelled; its teardown runs through Disconnect.
func (o outbox) Send(connID string, ev models.ServerEvent) bool {
	s, ok := o.h.sessions[connID]
	if !ok {
		return false
	}
	select {
	case s.out <- ev:
		return true
	default:
		if !s.kicked {
			s.kicked = true
			o.h.log.Warn().
				Str("conn", connID).
				Str("event", string(ev.Type())).
				Msg("send buffer full, dropping connection")
			s.cancel()
		}
		return false
	}
}

func (o outbox) Connections() []string {
	return o.h.sortedSessionIDs()
}

// Live reports whether connID can receive relayed signaling.
func (o outbox) Live(connID string) bool {
	s, ok := o.h.sessions[connID]
	return ok && s.user != nil
}
