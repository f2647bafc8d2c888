package voice

import (
	"testing"

	"nexus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	u1 = models.User{ID: "u1", Username: "alice", Avatar: "🦊", Color: "#111111"}
	u2 = models.User{ID: "u2", Username: "bob", Avatar: "🐙", Color: "#222222"}
	u3 = models.User{ID: "u3", Username: "carol", Avatar: "🐝", Color: "#333333"}
)

type outbox struct {
	direct map[string][]models.ServerEvent
	room   map[string][]models.ServerEvent
	sizes  map[string]int
}

func newOutbox() *outbox {
	return &outbox{
		direct: make(map[string][]models.ServerEvent),
		room:   make(map[string][]models.ServerEvent),
		sizes:  make(map[string]int),
	}
}

func (o *outbox) Send(connID string, ev models.ServerEvent) bool {
	o.direct[connID] = append(o.direct[connID], ev)
	return true
}

func (o *outbox) Broadcast(roomID string, ev models.ServerEvent) {
	o.room[roomID] = append(o.room[roomID], ev)
}

func (o *outbox) PublishVoiceRoom(roomID string, size int) {
	o.sizes[roomID] = size
}

func (o *outbox) reset() {
	o.direct = make(map[string][]models.ServerEvent)
	o.room = make(map[string][]models.ServerEvent)
}

func connIDs(ps []models.Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ConnectionID
	}
	return ids
}

func newService() (*Service, *outbox) {
	out := newOutbox()
	return NewService(NewRegistry(), out, out, out), out
}

func TestRegistry_JoinSnapshotExcludesJoiner(t *testing.T) {
	r := NewRegistry()

	peers, joined := r.Join("general", models.NewParticipant(u1, "c1"))
	require.True(t, joined)
	assert.Empty(t, peers)

	peers, joined = r.Join("general", models.NewParticipant(u2, "c2"))
	require.True(t, joined)
	assert.Equal(t, []string{"c1"}, connIDs(peers))

	peers, _ = r.Join("general", models.NewParticipant(u3, "c3"))
	assert.Equal(t, []string{"c1", "c2"}, connIDs(peers))
	assert.NotContains(t, connIDs(peers), "c3")

	_, joined = r.Join("tech", models.NewParticipant(u1, "c1"))
	assert.False(t, joined, "a connection is in one room at a time")
}

func TestRegistry_RoomExistsIffNonEmpty(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Exists("general"))

	r.Join("general", models.NewParticipant(u1, "c1"))
	r.Join("general", models.NewParticipant(u2, "c2"))
	assert.True(t, r.Exists("general"))

	_, remaining, ok := r.Leave("general", "c1")
	require.True(t, ok)
	assert.Equal(t, []string{"c2"}, connIDs(remaining))
	assert.True(t, r.Exists("general"))

	removed, remaining, ok := r.Leave("general", "c2")
	require.True(t, ok)
	assert.Equal(t, "u2", removed.UserID)
	assert.Empty(t, remaining)
	assert.False(t, r.Exists("general"))
	assert.Empty(t, r.Rooms())

	_, _, ok = r.Leave("general", "c2")
	assert.False(t, ok)
}

func TestRegistry_LeaveMatchesByConnection(t *testing.T) {
	r := NewRegistry()
	r.Join("general", models.NewParticipant(u1, "phone"))
	r.Join("general", models.NewParticipant(u1, "laptop"))

	_, remaining, ok := r.Leave("general", "phone")
	require.True(t, ok)
	require.Len(t, remaining, 1)
	assert.Equal(t, "laptop", remaining[0].ConnectionID)
}

func TestRegistry_UpdateProfile(t *testing.T) {
	r := NewRegistry()
	r.Join("general", models.NewParticipant(u1, "c1"))
	r.Join("tech", models.NewParticipant(u2, "c2"))

	renamed := u1
	renamed.Avatar = "🐢"
	assert.Equal(t, []string{"general"}, r.UpdateProfile(renamed))
	assert.Equal(t, "🐢", r.Participants("general")[0].Avatar)
}

// Scenarios A through D run in sequence on the same room.
func TestService_Choreography(t *testing.T) {
	s, out := newService()

	// A: first joiner gets an empty peer list.
	require.True(t, s.Join(u1, "c1", "general"))
	require.Len(t, out.direct["c1"], 1)
	peers, ok := out.direct["c1"][0].(models.VoicePeers)
	require.True(t, ok)
	assert.Equal(t, "general", peers.RoomID)
	assert.Empty(t, peers.Peers)
	assert.Equal(t, []string{"c1"}, connIDs(s.Registry().Participants("general")))

	// B: second joiner sees the first, the first hears about the second,
	// the text room sees both.
	out.reset()
	require.True(t, s.Join(u2, "c2", "general"))

	require.Len(t, out.direct["c2"], 1)
	peers = out.direct["c2"][0].(models.VoicePeers)
	assert.Equal(t, []string{"c1"}, connIDs(peers.Peers))

	require.Len(t, out.direct["c1"], 1)
	joinedEv, ok := out.direct["c1"][0].(models.VoicePeerJoined)
	require.True(t, ok)
	assert.Equal(t, "c2", joinedEv.Participant.ConnectionID)
	assert.Equal(t, "bob", joinedEv.Participant.Username)

	require.Len(t, out.room["general"], 1)
	updated := out.room["general"][0].(models.VoiceRoomUpdated)
	assert.Equal(t, []string{"c1", "c2"}, connIDs(updated.Participants))
	assert.Equal(t, 2, out.sizes["general"])

	// C: first participant disconnects.
	out.reset()
	s.HandleDisconnect("c1")

	require.Len(t, out.direct["c2"], 1)
	left, ok := out.direct["c2"][0].(models.VoicePeerLeft)
	require.True(t, ok)
	assert.Equal(t, "c1", left.ConnectionID)
	assert.Equal(t, "u1", left.UserID)

	require.Len(t, out.room["general"], 1)
	updated = out.room["general"][0].(models.VoiceRoomUpdated)
	assert.Equal(t, []string{"c2"}, connIDs(updated.Participants))
	_, inRoom := s.Registry().RoomOf("c1")
	assert.False(t, inRoom)

	// D: last participant leaves; room disappears without a room update.
	out.reset()
	require.True(t, s.Leave("c2", "general"))
	assert.False(t, s.Registry().Exists("general"))
	assert.Empty(t, out.room["general"])
	assert.Empty(t, out.direct)
	assert.Equal(t, 0, out.sizes["general"])
}

func TestService_JoinIsIdempotentAndMoves(t *testing.T) {
	s, out := newService()
	s.Join(u1, "c1", "general")
	s.Join(u2, "c2", "general")

	out.reset()
	assert.False(t, s.Join(u1, "c1", "general"))
	assert.Empty(t, out.direct)
	assert.Empty(t, out.room)

	require.True(t, s.Join(u1, "c1", "tech"))
	assert.Equal(t, []string{"c2"}, connIDs(s.Registry().Participants("general")))
	assert.Equal(t, []string{"c1"}, connIDs(s.Registry().Participants("tech")))

	require.NotEmpty(t, out.direct["c2"])
	_, ok := out.direct["c2"][0].(models.VoicePeerLeft)
	assert.True(t, ok, "old room hears about the departure first")
}

func TestService_SetMuted(t *testing.T) {
	s, out := newService()
	s.Join(u1, "c1", "general")
	s.Join(u2, "c2", "general")
	out.reset()

	require.True(t, s.SetMuted("c1", "general", true))
	first := out.direct["c2"]
	require.Len(t, first, 1)
	assert.Empty(t, out.direct["c1"], "the sender is not notified")

	require.True(t, s.SetMuted("c1", "general", true))
	require.Len(t, out.direct["c2"], 2)
	assert.Equal(t, out.direct["c2"][0], out.direct["c2"][1])

	muted := out.direct["c2"][0].(models.VoicePeerMuted)
	assert.True(t, muted.Muted)
	assert.Equal(t, "u1", muted.UserID)
	assert.True(t, s.Registry().Participants("general")[0].Muted)

	assert.False(t, s.SetMuted("c1", "tech", true), "not in that room")
	assert.False(t, s.SetMuted("c9", "general", true))
}

func TestService_LeaveNotAMember(t *testing.T) {
	s, out := newService()
	assert.False(t, s.Leave("c1", "general"))
	s.HandleDisconnect("c1")
	assert.Empty(t, out.direct)
	assert.Empty(t, out.room)
}

func TestService_CloseAndSnapshot(t *testing.T) {
	s, out := newService()
	s.Join(u1, "c1", "general")
	s.Join(u2, "c2", "general")

	out.reset()
	s.Snapshot("observer", "general")
	require.Len(t, out.direct["observer"], 1)
	s.Snapshot("observer", "empty")
	assert.Len(t, out.direct["observer"], 1)

	s.Close("general")
	assert.False(t, s.Registry().Exists("general"))
	assert.Empty(t, s.Registry().Rooms())
}
