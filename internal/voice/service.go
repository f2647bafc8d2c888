package voice

import (
	"nexus/internal/logging"
	"nexus/internal/models"

	"github.com/rs/zerolog"
)

type Sender interface {
	Send(connID string, ev models.ServerEvent) bool
}

// RoomBroadcaster delivers to the text room sharing a voice room's id.
type RoomBroadcaster interface {
	Broadcast(roomID string, ev models.ServerEvent)
}

// Publisher mirrors room sizes outside the process.
type Publisher interface {
	PublishVoiceRoom(roomID string, size int)
}

// Service runs join/leave/mute against the Registry and emits the resulting
// notifications. Callers serialize calls per connection.
type Service struct {
	registry  *Registry
	sender    Sender
	rooms     RoomBroadcaster
	publisher Publisher
	log       zerolog.Logger
}

func NewService(registry *Registry, sender Sender, rooms RoomBroadcaster, publisher Publisher) *Service {
	return &Service{
		registry:  registry,
		sender:    sender,
		rooms:     rooms,
		publisher: publisher,
		log:       logging.For("voice"),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Join puts connID into roomID. A connection already in another room leaves
// it first; joining the room it is already in does nothing.
//
// The joiner receives the participants present before it joined and is
// expected to send each of them an offer. Existing participants only learn
// about the arrival and wait for that offer.
func (s *Service) Join(user models.User, connID, roomID string) bool {
	if current, ok := s.registry.RoomOf(connID); ok {
		if current == roomID {
			return false
		}
		s.Leave(connID, current)
	}

	p := models.NewParticipant(user, connID)
	peers, joined := s.registry.Join(roomID, p)
	if !joined {
		return false
	}

	s.sender.Send(connID, models.VoicePeers{RoomID: roomID, Peers: peers})
	joinedEv := models.VoicePeerJoined{RoomID: roomID, Participant: p}
	for _, peer := range peers {
		s.sender.Send(peer.ConnectionID, joinedEv)
	}
	s.roomChanged(roomID)

	s.log.Debug().
		Str("room", roomID).
		Str("conn", connID).
		Int("peers", len(peers)).
		Msg("joined voice")
	return true
}

// Leave removes connID from roomID. It is a no-op when the connection is not
// a participant there.
func (s *Service) Leave(connID, roomID string) bool {
	removed, remaining, ok := s.registry.Leave(roomID, connID)
	if !ok {
		return false
	}

	leftEv := models.VoicePeerLeft{RoomID: roomID, ConnectionID: connID, UserID: removed.UserID}
	for _, peer := range remaining {
		s.sender.Send(peer.ConnectionID, leftEv)
	}
	// An emptied room is gone; observers learn nothing further about it.
	if len(remaining) > 0 {
		s.rooms.Broadcast(roomID, models.VoiceRoomUpdated{RoomID: roomID, Participants: remaining})
	}
	s.publish(roomID, len(remaining))

	s.log.Debug().
		Str("room", roomID).
		Str("conn", connID).
		Int("remaining", len(remaining)).
		Msg("left voice")
	return true
}

// SetMuted stores the mute flag and tells the other participants about it.
// The sender is left out; its own client already shows the new state.
func (s *Service) SetMuted(connID, roomID string, muted bool) bool {
	p, others, ok := s.registry.SetMuted(roomID, connID, muted)
	if !ok {
		return false
	}
	ev := models.VoicePeerMuted{RoomID: roomID, ConnectionID: connID, UserID: p.UserID, Muted: muted}
	for _, other := range others {
		s.sender.Send(other.ConnectionID, ev)
	}
	return true
}

// HandleDisconnect removes connID from whatever voice room it is in.
func (s *Service) HandleDisconnect(connID string) {
	if roomID, ok := s.registry.RoomOf(connID); ok {
		s.Leave(connID, roomID)
	}
}

// Close removes every participant of roomID, one leave at a time.
func (s *Service) Close(roomID string) {
	for _, p := range s.registry.Participants(roomID) {
		s.Leave(p.ConnectionID, roomID)
	}
}

// UpdateProfile refreshes participant snapshots after a profile change.
func (s *Service) UpdateProfile(user models.User) {
	for _, roomID := range s.registry.UpdateProfile(user) {
		s.roomChanged(roomID)
	}
}

// Snapshot sends the current state of roomID to a single connection, used
// when an observer opens the text room.
func (s *Service) Snapshot(connID, roomID string) {
	participants := s.registry.Participants(roomID)
	if len(participants) == 0 {
		return
	}
	s.sender.Send(connID, models.VoiceRoomUpdated{RoomID: roomID, Participants: participants})
}

func (s *Service) roomChanged(roomID string) {
	participants := s.registry.Participants(roomID)
	s.rooms.Broadcast(roomID, models.VoiceRoomUpdated{RoomID: roomID, Participants: participants})
	s.publish(roomID, len(participants))
}

func (s *Service) publish(roomID string, size int) {
	if s.publisher != nil {
		s.publisher.PublishVoiceRoom(roomID, size)
	}
}
