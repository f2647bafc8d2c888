package rooms

import (
	"testing"

	"nexus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	sent map[string][]models.ServerEvent
}

func (s *sink) Send(connID string, ev models.ServerEvent) bool {
	if s.sent == nil {
		s.sent = make(map[string][]models.ServerEvent)
	}
	s.sent[connID] = append(s.sent[connID], ev)
	return true
}

func TestTracker_JoinMovesBetweenRooms(t *testing.T) {
	tr := NewTracker(&sink{})

	assert.Empty(t, tr.Join("c1", "general"))
	tr.Join("c2", "general")
	assert.Equal(t, []string{"c1", "c2"}, tr.Members("general"))

	prev := tr.Join("c1", "tech")
	assert.Equal(t, "general", prev)
	assert.Equal(t, []string{"c2"}, tr.Members("general"))
	assert.Equal(t, []string{"c1"}, tr.Members("tech"))

	room, ok := tr.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, "tech", room)

	assert.Empty(t, tr.Join("c1", "tech"), "rejoining the same room changes nothing")
	assert.Equal(t, []string{"c1"}, tr.Members("tech"))
}

func TestTracker_Leave(t *testing.T) {
	tr := NewTracker(&sink{})
	tr.Join("c1", "general")

	assert.False(t, tr.Leave("c1", "tech"), "not a member")
	assert.False(t, tr.Leave("c9", "general"))
	assert.True(t, tr.Leave("c1", "general"))
	assert.Empty(t, tr.Members("general"))

	_, ok := tr.RoomOf("c1")
	assert.False(t, ok)

	tr.Join("c2", "gaming")
	room, ok := tr.LeaveAll("c2")
	require.True(t, ok)
	assert.Equal(t, "gaming", room)
	_, ok = tr.LeaveAll("c2")
	assert.False(t, ok)
}

func TestTracker_Broadcast(t *testing.T) {
	s := &sink{}
	tr := NewTracker(s)
	tr.Join("c1", "general")
	tr.Join("c2", "general")
	tr.Join("c3", "tech")

	ev := models.UserTyping{RoomID: "general", UserID: "u1", IsTyping: true}
	tr.BroadcastExcept("general", "c1", ev)
	assert.Empty(t, s.sent["c1"])
	assert.Equal(t, []models.ServerEvent{ev}, s.sent["c2"])
	assert.Empty(t, s.sent["c3"])

	tr.Broadcast("general", ev)
	assert.Len(t, s.sent["c1"], 1)
	assert.Len(t, s.sent["c2"], 2)
}

func TestTracker_Evict(t *testing.T) {
	tr := NewTracker(&sink{})
	tr.Join("c1", "doomed")
	tr.Join("c2", "doomed")
	tr.Join("c3", "general")

	assert.Equal(t, []string{"c1", "c2"}, tr.Evict("doomed"))
	assert.Empty(t, tr.Members("doomed"))
	_, ok := tr.RoomOf("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c3"}, tr.Members("general"))
}
