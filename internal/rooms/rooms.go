// Package rooms tracks which connection currently views which text room.
package rooms

import (
	"sort"
	"sync"

	"nexus/internal/models"
)

type Sender interface {
	Send(connID string, ev models.ServerEvent) bool
}

// Tracker holds text room membership. A connection is in at most one text
// room; joining another room leaves the previous one.
type Tracker struct {
	members map[string]map[string]struct{}
	roomOf  map[string]string
	sender  Sender

	mu sync.RWMutex
}

func NewTracker(sender Sender) *Tracker {
	return &Tracker{
		members: make(map[string]map[string]struct{}),
		roomOf:  make(map[string]string),
		sender:  sender,
	}
}

// Join moves connID into roomID and returns the room it left, if any.
func (t *Tracker) Join(connID, roomID string) (previous string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous = t.roomOf[connID]
	if previous == roomID {
		return ""
	}
	if previous != "" {
		t.removeLocked(connID, previous)
	}

	set, ok := t.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.members[roomID] = set
	}
	set[connID] = struct{}{}
	t.roomOf[connID] = roomID
	return previous
}

// Leave removes connID from roomID. Leaving a room the connection is not in
// is a no-op.
func (t *Tracker) Leave(connID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.roomOf[connID] != roomID {
		return false
	}
	t.removeLocked(connID, roomID)
	return true
}

// LeaveAll removes connID from whatever room it is in.
func (t *Tracker) LeaveAll(connID string) (roomID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roomID, ok = t.roomOf[connID]
	if ok {
		t.removeLocked(connID, roomID)
	}
	return roomID, ok
}

// Evict empties a room and returns the connections that were in it.
func (t *Tracker) Evict(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := sortedKeys(t.members[roomID])
	for _, connID := range conns {
		delete(t.roomOf, connID)
	}
	delete(t.members, roomID)
	return conns
}

func (t *Tracker) RoomOf(connID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roomID, ok := t.roomOf[connID]
	return roomID, ok
}

// Members returns the connections currently viewing roomID, sorted.
func (t *Tracker) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.members[roomID])
}

// Broadcast sends ev to every member of roomID.
func (t *Tracker) Broadcast(roomID string, ev models.ServerEvent) {
	t.BroadcastExcept(roomID, "", ev)
}

// BroadcastExcept sends ev to every member of roomID other than excluded.
func (t *Tracker) BroadcastExcept(roomID, excluded string, ev models.ServerEvent) {
	for _, connID := range t.Members(roomID) {
		if connID == excluded {
			continue
		}
		t.sender.Send(connID, ev)
	}
}

func (t *Tracker) removeLocked(connID, roomID string) {
	delete(t.roomOf, connID)
	set := t.members[roomID]
	delete(set, connID)
	if len(set) == 0 {
		delete(t.members, roomID)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
