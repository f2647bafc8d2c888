// Package voice holds the voice room registry and the join/leave choreography
// that drives peer negotiation between participants.
package voice

import (
	"sort"
	"sync"

	"nexus/internal/models"
)

type entry struct {
	participant models.Participant
	seq         uint64
}

// Registry maps a voice room to its participants, keyed by connection id.
// A room exists only while it has at least one participant.
type Registry struct {
	rooms  map[string]map[string]entry
	roomOf map[string]string
	seq    uint64

	mu sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]entry),
		roomOf: make(map[string]string),
	}
}

// Join adds p to roomID and returns the participants that were there before
// it. The returned snapshot never contains p. joined is false when the
// connection is already in roomID or in another room.
func (r *Registry) Join(roomID string, p models.Participant) (peers []models.Participant, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.roomOf[p.ConnectionID]; busy {
		return nil, false
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]entry)
		r.rooms[roomID] = room
	}
	peers = ordered(room)

	p.Muted = false
	r.seq++
	room[p.ConnectionID] = entry{participant: p, seq: r.seq}
	r.roomOf[p.ConnectionID] = roomID
	return peers, true
}

// Leave removes the participant on connID from roomID. When the room empties
// it is deleted and remaining is empty.
func (r *Registry) Leave(roomID, connID string) (removed models.Participant, remaining []models.Participant, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomID]
	if !exists {
		return removed, nil, false
	}
	e, exists := room[connID]
	if !exists {
		return removed, nil, false
	}

	delete(room, connID)
	delete(r.roomOf, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
		return e.participant, nil, true
	}
	return e.participant, ordered(room), true
}

// SetMuted stores the mute flag of the participant on connID and returns it
// together with the other participants of the room.
func (r *Registry) SetMuted(roomID, connID string, muted bool) (p models.Participant, others []models.Participant, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomID]
	if !exists {
		return p, nil, false
	}
	e, exists := room[connID]
	if !exists {
		return p, nil, false
	}
	e.participant.Muted = muted
	room[connID] = e

	for _, other := range ordered(room) {
		if other.ConnectionID != connID {
			others = append(others, other)
		}
	}
	return e.participant, others, true
}

// UpdateProfile refreshes the profile snapshot of every participant of userID.
func (r *Registry) UpdateProfile(user models.User) (roomIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, room := range r.rooms {
		for connID, e := range room {
			if e.participant.UserID != user.ID {
				continue
			}
			e.participant.Username = user.Username
			e.participant.Avatar = user.Avatar
			e.participant.Color = user.Color
			room[connID] = e
			roomIDs = append(roomIDs, roomID)
		}
	}
	sort.Strings(roomIDs)
	return roomIDs
}

// RoomOf returns the room the connection participates in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.roomOf[connID]
	return roomID, ok
}

func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Participants returns the participants of roomID in join order.
func (r *Registry) Participants(roomID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ordered(r.rooms[roomID])
}

// Rooms returns every active room sorted by id.
func (r *Registry) Rooms() []models.VoiceRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]models.VoiceRoom, 0, len(r.rooms))
	for roomID, room := range r.rooms {
		rooms = append(rooms, models.VoiceRoom{RoomID: roomID, Participants: ordered(room)})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })
	return rooms
}

func ordered(room map[string]entry) []models.Participant {
	entries := make([]entry, 0, len(room))
	for _, e := range room {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]models.Participant, len(entries))
	for i, e := range entries {
		out[i] = e.participant
	}
	return out
}
