package ws

import (
	"errors"
	"strings"
	"unicode/utf8"

	"nexus/internal/content"
	"nexus/internal/models"
)

const defaultChannelIcon = "✨"

// checkAccess reports the notice to send when user may not use roomID.
func (h *Hub) checkAccess(user models.User, roomID string) (string, bool) {
	if roomID == "" {
		return "Channel not found", false
	}
	ch, err := h.store.GetChannel(roomID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.Error().Err(err).Str("channel", roomID).Msg("failed to load channel")
		}
		return "Channel not found", false
	}
	if ch.IsDM {
		member, err := h.store.IsChannelMember(roomID, user.ID)
		if err != nil {
			h.log.Error().Err(err).Str("channel", roomID).Msg("failed to check membership")
			return "Channel not found", false
		}
		if !member {
			return "You are not a member of this conversation", false
		}
	}
	return "", true
}

func (h *Hub) joinTextRoom(connID string, e models.JoinTextRoom) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	if notice, ok := h.checkAccess(user, e.RoomID); !ok {
		h.notify(connID, notice)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stillLocked(connID, user.ID) {
		return
	}
	h.rooms.Join(connID, e.RoomID)
	h.voice.Snapshot(connID, e.RoomID)
}

func (h *Hub) sendChatMessage(connID string, e models.SendChatMessage) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	text := strings.TrimSpace(e.Content)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > h.config.MaxMessageLength {
		h.notify(connID, "Message is too long")
		return
	}
	if notice, ok := h.checkAccess(user, e.RoomID); !ok {
		h.notify(connID, notice)
		return
	}

	html, err := content.RenderMarkdown(text)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to render message")
		html = content.Escape(text)
	}
	id, ts, err := h.store.PersistMessage(e.RoomID, user.ID, text)
	if err != nil {
		h.log.Error().Err(err).Str("channel", e.RoomID).Msg("failed to persist message")
		h.notify(connID, "Could not send message")
		return
	}

	msg := models.Message{
		ID:        id,
		ChannelID: e.RoomID,
		AuthorID:  user.ID,
		Content:   text,
		HTML:      html,
		CreatedAt: ts,
		Username:  user.Username,
		Avatar:    user.Avatar,
		Color:     user.Color,
	}
	if h.history != nil {
		h.history.Append(msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms.Broadcast(e.RoomID, models.NewMessage{Message: msg})
}

// setTyping relays a typing indicator to the room's viewers. Denied
// indicators are dropped without a notice.
func (h *Hub) setTyping(connID string, e models.SetTyping) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	if _, ok := h.checkAccess(user, e.RoomID); !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stillLocked(connID, user.ID) {
		return
	}
	h.rooms.BroadcastExcept(e.RoomID, connID, models.UserTyping{
		RoomID:   e.RoomID,
		UserID:   user.ID,
		Username: user.Username,
		IsTyping: e.IsTyping,
	})
}

func (h *Hub) joinVoice(connID string, e models.JoinVoice) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	if notice, ok := h.checkAccess(user, e.RoomID); !ok {
		h.notify(connID, notice)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stillLocked(connID, user.ID) {
		return
	}
	h.voice.Join(user, connID, e.RoomID)
}

func (h *Hub) leaveVoice(connID string, e models.LeaveVoice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.identityLocked(connID); !ok {
		return
	}
	h.voice.Leave(connID, e.RoomID)
}

func (h *Hub) setMuted(connID string, e models.SetMuted) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.identityLocked(connID); !ok {
		return
	}
	h.voice.SetMuted(connID, e.RoomID, e.Muted)
}

func (h *Hub) voiceSignal(connID string, e models.VoiceSignal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.identityLocked(connID); !ok {
		return
	}
	roomID := e.RoomID
	if current, ok := h.voice.Registry().RoomOf(connID); ok {
		roomID = current
	}
	h.relay.Forward(e.Kind, connID, e.TargetConnection, roomID, e.Payload)
}

func (h *Hub) sendFriendRequest(connID string, e models.SendFriendRequest) {
	user, ok := h.identity(connID)
	if !ok || e.ToID == "" {
		return
	}
	if e.ToID == user.ID {
		h.notify(connID, "You cannot befriend yourself")
		return
	}
	if friends, err := h.store.AreFriends(user.ID, e.ToID); err == nil && friends {
		h.notify(connID, "Already friends!")
		return
	}
	if sent, err := h.store.HasFriendRequest(user.ID, e.ToID); err == nil && sent {
		h.notify(connID, "Request already sent")
		return
	}

	req, err := h.store.CreateFriendRequest(user.ID, e.ToID)
	if err != nil {
		h.log.Warn().Err(err).Str("to", e.ToID).Msg("failed to create friend request")
		h.notify(connID, "Could not send request")
		return
	}
	req.Username, req.Avatar, req.Color = user.Username, user.Avatar, user.Color

	h.mu.Lock()
	defer h.mu.Unlock()
	out := outbox{h}
	if toConn, ok := h.presence.ConnectionOf(e.ToID); ok {
		out.Send(toConn, models.FriendRequestReceived{FriendRequest: req})
	}
	out.Send(connID, models.FriendRequestSent{FriendRequest: req})
}

func (h *Hub) acceptFriendRequest(connID string, e models.AcceptFriendRequest) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	req, err := h.store.GetFriendRequest(e.RequestID)
	if err != nil || req.ToID != user.ID {
		h.notify(connID, "Request not found")
		return
	}
	from, err := h.store.GetUser(req.FromID)
	if err != nil {
		h.notify(connID, "Request not found")
		return
	}
	if err := h.store.DeleteFriendRequest(req.ID); err != nil {
		h.log.Error().Err(err).Msg("failed to delete friend request")
	}
	if err := h.store.AddFriendship(user.ID, from.ID); err != nil {
		h.log.Error().Err(err).Msg("failed to add friendship")
		h.notify(connID, "Could not accept request")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := outbox{h}
	out.Send(connID, models.FriendAdded{User: from})
	if fromConn, ok := h.presence.ConnectionOf(from.ID); ok {
		out.Send(fromConn, models.FriendAdded{User: user})
	}
}

func (h *Hub) declineFriendRequest(connID string, e models.DeclineFriendRequest) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	req, err := h.store.GetFriendRequest(e.RequestID)
	if err == nil && req.ToID != user.ID && req.FromID != user.ID {
		return
	}
	if err == nil {
		if err := h.store.DeleteFriendRequest(req.ID); err != nil {
			h.log.Error().Err(err).Msg("failed to delete friend request")
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	outbox{h}.Send(connID, models.RequestDeclined{RequestID: e.RequestID})
}

func (h *Hub) createChannel(connID string, e models.CreateChannel) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	name := content.Slugify(e.Name)
	if name == "" {
		h.notify(connID, "Channel name is required")
		return
	}
	icon := strings.TrimSpace(content.StripTags(e.Icon))
	if icon == "" {
		icon = defaultChannelIcon
	}

	ch, err := h.store.CreateChannel(models.Channel{
		Name:        name,
		Icon:        icon,
		Description: strings.TrimSpace(content.StripTags(e.Description)),
		CreatedBy:   user.ID,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create channel")
		h.notify(connID, "Could not create channel")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(models.ChannelCreated{Channel: ch})
	outbox{h}.Send(connID, models.ChannelJoined{ChannelID: ch.ID})
}

// deleteChannel removes a channel created by the caller. Viewers are evicted
// and the voice room is emptied through the regular leave path.
func (h *Hub) deleteChannel(connID string, e models.DeleteChannel) {
	user, ok := h.identity(connID)
	if !ok {
		return
	}
	ch, err := h.store.GetChannel(e.ChannelID)
	if err != nil {
		h.notify(connID, "Channel not found")
		return
	}
	if ch.IsDM || ch.CreatedBy != user.ID {
		h.notify(connID, "Only the creator can delete this channel")
		return
	}
	if err := h.store.DeleteChannel(ch.ID); err != nil {
		h.log.Error().Err(err).Str("channel", ch.ID).Msg("failed to delete channel")
		h.notify(connID, "Could not delete channel")
		return
	}
	if h.history != nil {
		h.history.Drop(ch.ID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.voice.Close(ch.ID)
	h.rooms.Evict(ch.ID)
	h.broadcastLocked(models.ChannelDeleted{ChannelID: ch.ID})
}
