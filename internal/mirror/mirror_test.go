package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (c *captured) apply(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, s)
	return nil
}

func (c *captured) all() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snapshots...)
}

func TestRedis_CoalescesPendingUpdates(t *testing.T) {
	c := &captured{}
	m := newRedis(c.apply)

	m.PublishOnline([]string{"u1"})
	m.PublishOnline([]string{"u1", "u2"})
	m.PublishVoiceRoom("general", 2)
	m.PublishVoiceRoom("tech", 1)
	m.PublishVoiceRoom("tech", 0)

	m.flush(context.Background())
	m.flush(context.Background())

	snaps := c.all()
	require.Len(t, snaps, 1, "second flush has nothing to write")
	assert.Equal(t, []string{"u1", "u2"}, snaps[0].Online)
	assert.True(t, snaps[0].OnlineDirty)
	assert.Equal(t, map[string]int{"general": 2, "tech": 0}, snaps[0].Rooms)
}

func TestRedis_VoiceOnlyUpdateLeavesOnlineAlone(t *testing.T) {
	c := &captured{}
	m := newRedis(c.apply)

	m.PublishVoiceRoom("general", 1)
	m.flush(context.Background())

	snaps := c.all()
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].OnlineDirty)
}

func TestRedis_RunFlushesUntilCancelled(t *testing.T) {
	c := &captured{}
	m := newRedis(c.apply)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.PublishOnline([]string{"u1"})
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)

	m.PublishVoiceRoom("general", 3)
	cancel()
	require.NoError(t, <-done)

	snaps := c.all()
	assert.Equal(t, 3, snaps[len(snaps)-1].Rooms["general"])
}

func TestRedis_ApplyErrorIsNotFatal(t *testing.T) {
	calls := 0
	m := newRedis(func(context.Context, Snapshot) error {
		calls++
		return errors.New("connection refused")
	})

	m.PublishOnline(nil)
	m.flush(context.Background())
	m.PublishOnline([]string{"u1"})
	m.flush(context.Background())
	assert.Equal(t, 2, calls)
}

func TestRedis_FailedWriteIsRetriedUnderNewerUpdates(t *testing.T) {
	c := &captured{}
	fail := true
	m := newRedis(func(ctx context.Context, s Snapshot) error {
		if fail {
			return errors.New("connection refused")
		}
		return c.apply(ctx, s)
	})

	m.PublishOnline([]string{"u1"})
	m.PublishVoiceRoom("general", 2)
	m.PublishVoiceRoom("tech", 1)
	m.flush(context.Background())

	fail = false
	m.PublishVoiceRoom("tech", 0)
	m.flush(context.Background())

	snaps := c.all()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].OnlineDirty)
	assert.Equal(t, []string{"u1"}, snaps[0].Online)
	assert.Equal(t, map[string]int{"general": 2, "tech": 0}, snaps[0].Rooms)

	// Online set published after the failure replaces the restored one.
	fail = true
	m.PublishOnline([]string{"u1"})
	m.flush(context.Background())
	fail = false
	m.PublishOnline([]string{"u1", "u2"})
	m.flush(context.Background())

	snaps = c.all()
	require.Len(t, snaps, 2)
	assert.Equal(t, []string{"u1", "u2"}, snaps[1].Online)
	assert.Empty(t, snaps[1].Rooms)
}

func TestNop(t *testing.T) {
	var m Mirror = Nop{}
	m.PublishOnline([]string{"u1"})
	m.PublishVoiceRoom("general", 1)
	assert.NoError(t, m.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Run(ctx))
}
