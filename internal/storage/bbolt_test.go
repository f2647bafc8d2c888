package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"nexus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createUser(t *testing.T, store *BboltStorage, name string) models.User {
	t.Helper()
	u, err := store.CreateUser(models.User{Username: name, Avatar: "🦋", Color: "#4f6ef7"}, "hash-"+name)
	require.NoError(t, err)
	return u
}

func TestStorage_Users(t *testing.T) {
	store := newTestStorage(t)

	alice := createUser(t, store, "Alice")
	require.Len(t, alice.ID, 10)
	require.NotZero(t, alice.CreatedAt)

	_, err := store.CreateUser(models.User{Username: "alice"}, "x")
	require.True(t, errors.Is(err, models.ErrAlreadyExists), "usernames are case-insensitive")

	got, err := store.GetUser(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = store.GetUser("missing")
	require.True(t, errors.Is(err, models.ErrNotFound))

	user, hash, err := store.GetCredentials("ALICE")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, "hash-Alice", hash)

	byName, err := store.GetUserByName("alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byName.ID)
	_, err = store.GetUserByName("nobody")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	createUser(t, store, "bob")
	createUser(t, store, "carol")

	all, err := store.ListUsers()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alice", all[0].Username)

	found, err := store.SearchUsers("O", 30)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "bob", found[0].Username)
	assert.Equal(t, "carol", found[1].Username)

	limited, err := store.SearchUsers("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	updated, err := store.UpdateProfile(alice.ID, "🐙", "#ff0000")
	require.NoError(t, err)
	assert.Equal(t, "🐙", updated.Avatar)

	got, err = store.GetUser(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", got.Color, "cache refreshed on update")
}

func TestStorage_Channels(t *testing.T) {
	store := newTestStorage(t)

	channels, err := store.ListChannels()
	require.NoError(t, err)
	require.Len(t, channels, len(defaultChannels))
	for i, ch := range defaultChannels {
		assert.Equal(t, ch.ID, channels[i].ID)
	}

	created, err := store.CreateChannel(models.Channel{Name: "music", Icon: "✨", CreatedBy: "u1"})
	require.NoError(t, err)
	require.Len(t, created.ID, len("ch_")+8)

	got, err := store.GetChannel(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "music", got.Name)

	_, _, err = store.PersistMessage(created.ID, "u1", "hello")
	require.NoError(t, err)

	require.NoError(t, store.DeleteChannel(created.ID))
	_, err = store.GetChannel(created.ID)
	require.True(t, errors.Is(err, models.ErrNotFound))

	msgs, err := store.ListMessages(created.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = store.DeleteChannel(created.ID)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStorage_DM(t *testing.T) {
	store := newTestStorage(t)
	alice := createUser(t, store, "alice")
	bob := createUser(t, store, "bob")
	carol := createUser(t, store, "carol")

	dm, err := store.EnsureDM(bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, dm.IsDM)
	assert.Equal(t, DMChannelID(alice.ID, bob.ID), dm.ID)
	assert.True(t, models.IsDMChannel(dm.ID))

	again, err := store.EnsureDM(alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, dm, again)

	ok, err := store.IsChannelMember(dm.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsChannelMember(dm.ID, carol.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	public, err := store.ListChannels()
	require.NoError(t, err)
	for _, ch := range public {
		assert.False(t, ch.IsDM)
	}

	_, err = store.EnsureDM(alice.ID, "ghost")
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStorage_Messages(t *testing.T) {
	store := newTestStorage(t)
	alice := createUser(t, store, "alice")

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		id, ts, err := store.PersistMessage("ch_general", alice.ID, content)
		require.NoError(t, err)
		require.Len(t, id, 12)
		require.NotZero(t, ts)
		ids = append(ids, id)
	}

	msgs, err := store.ListMessages("ch_general", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Equal(t, ids[2], msgs[1].ID)
	assert.Equal(t, "alice", msgs[1].Username)

	_, _, err = store.PersistMessage("ch_missing", alice.ID, "x")
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func TestStorage_Friends(t *testing.T) {
	store := newTestStorage(t)
	alice := createUser(t, store, "alice")
	bob := createUser(t, store, "bob")

	req, err := store.CreateFriendRequest(alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", req.Username)

	_, err = store.CreateFriendRequest(alice.ID, bob.ID)
	require.True(t, errors.Is(err, models.ErrAlreadyExists))

	has, err := store.HasFriendRequest(alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, has)

	incoming, err := store.ListRequests(bob.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	got, err := store.GetFriendRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ToID)

	require.NoError(t, store.DeleteFriendRequest(req.ID))
	require.NoError(t, store.DeleteFriendRequest(req.ID))
	has, err = store.HasFriendRequest(alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.AddFriendship(alice.ID, bob.ID))
	friends, err := store.AreFriends(bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, friends)

	list, err := store.ListFriends(alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bob.ID, list[0].ID)
}
