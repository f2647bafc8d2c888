// Package presence tracks which identities are online and fans the online set
// out to every connected session whenever it changes.
package presence

import (
	"sort"
	"sync"

	"nexus/internal/models"
)

// Listener is notified with the full online set after every register/unregister.
type Listener interface {
	PresenceChanged(online []string)
}

// Registry is the connection registry: identity -> its current connection.
// A later Register for the same identity replaces the earlier connection.
type Registry struct {
	conns    map[string]string
	listener Listener

	mu sync.RWMutex
}

func NewRegistry(listener Listener) *Registry {
	return &Registry{
		conns:    make(map[string]string),
		listener: listener,
	}
}

// Register records that userID is reachable at connID. It returns the
// connection it replaced, if any.
func (r *Registry) Register(userID, connID string) (previous string, replaced bool) {
	r.mu.Lock()
	previous, replaced = r.conns[userID]
	r.conns[userID] = connID
	online := r.listLocked()
	r.mu.Unlock()

	if replaced && previous == connID {
		previous, replaced = "", false
	}
	r.notify(online)
	return previous, replaced
}

// Unregister removes userID only while connID is still its recorded
// connection, so a stale teardown cannot evict a newer connection.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	online := r.listLocked()
	r.mu.Unlock()

	r.notify(online)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ConnectionOf returns the connection currently recorded for userID.
func (r *Registry) ConnectionOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.conns[userID]
	return connID, ok
}

// ListOnline returns the sorted online identity set.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) listLocked() []string {
	online := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}

func (r *Registry) notify(online []string) {
	if r.listener != nil {
		r.listener.PresenceChanged(online)
	}
}

// Audience lists every live connection, authenticated or not.
type Audience interface {
	Connections() []string
}

type Sender interface {
	Send(connID string, ev models.ServerEvent) bool
}

// Publisher mirrors the online set outside the process.
type Publisher interface {
	PublishOnline(online []string)
}

// Broadcaster sends the full online set to every connection. The fan-out is
// O(connections) per change and carries no diff.
type Broadcaster struct {
	audience  Audience
	sender    Sender
	publisher Publisher
}

func NewBroadcaster(audience Audience, sender Sender, publisher Publisher) *Broadcaster {
	return &Broadcaster{
		audience:  audience,
		sender:    sender,
		publisher: publisher,
	}
}

func (b *Broadcaster) PresenceChanged(online []string) {
	ev := models.OnlinePresenceChanged{OnlineIdentities: online}
	for _, connID := range b.audience.Connections() {
		b.sender.Send(connID, ev)
	}
	if b.publisher != nil {
		b.publisher.PublishOnline(online)
	}
}
