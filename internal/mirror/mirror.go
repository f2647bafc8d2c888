// Package mirror copies presence and voice room sizes into Redis so that
// other processes can read them. The in-process registries stay the only
// authority; the mirror is written asynchronously and may lag.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"nexus/internal/logging"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	OnlineKey       = "nexus:online"
	VoiceKey        = "nexus:voice"
	PresenceChannel = "nexus:presence"
)

type Mirror interface {
	PublishOnline(online []string)
	PublishVoiceRoom(roomID string, size int)
	Run(ctx context.Context) error
	Close() error
}

// Nop is used when no Redis address is configured.
type Nop struct{}

func (Nop) PublishOnline([]string)       {}
func (Nop) PublishVoiceRoom(string, int) {}
func (Nop) Close() error                 { return nil }
func (Nop) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Snapshot is the pending state handed to one flush.
type Snapshot struct {
	Online      []string       `json:"online"`
	OnlineDirty bool           `json:"-"`
	Rooms       map[string]int `json:"voice"`
}

// Redis coalesces updates: publishers overwrite the pending snapshot and a
// single worker writes whatever is latest.
type Redis struct {
	client *redis.Client
	apply  func(ctx context.Context, s Snapshot) error
	wake   chan struct{}
	log    zerolog.Logger

	pending Snapshot
	mu      sync.Mutex
}

// Connect opens the client and checks the server is reachable.
func Connect(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m := newRedis(nil)
	m.client = client
	m.apply = m.write
	return m, nil
}

func newRedis(apply func(ctx context.Context, s Snapshot) error) *Redis {
	return &Redis{
		apply:   apply,
		wake:    make(chan struct{}, 1),
		log:     logging.For("mirror"),
		pending: Snapshot{Rooms: make(map[string]int)},
	}
}

func (m *Redis) PublishOnline(online []string) {
	m.mu.Lock()
	m.pending.Online = append([]string(nil), online...)
	m.pending.OnlineDirty = true
	m.mu.Unlock()
	m.signal()
}

// PublishVoiceRoom records a room size; zero removes the room.
func (m *Redis) PublishVoiceRoom(roomID string, size int) {
	m.mu.Lock()
	m.pending.Rooms[roomID] = size
	m.mu.Unlock()
	m.signal()
}

// Run flushes pending updates until ctx is done, then flushes once more.
func (m *Redis) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.flush(context.WithoutCancel(ctx))
			return nil
		case <-m.wake:
			m.flush(ctx)
		}
	}
}

func (m *Redis) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Redis) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Redis) take() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.pending
	if !s.OnlineDirty && len(s.Rooms) == 0 {
		return s, false
	}
	m.pending = Snapshot{Rooms: make(map[string]int)}
	return s, true
}

func (m *Redis) flush(ctx context.Context) {
	s, ok := m.take()
	if !ok {
		return
	}
	if err := m.apply(ctx, s); err != nil {
		m.log.Warn().Err(err).Msg("failed to mirror presence")
		m.restore(s)
	}
}

// restore returns a snapshot that failed to write to the pending state. Newer
// updates win; the restored values ride along with the next flush.
func (m *Redis) restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.OnlineDirty && !m.pending.OnlineDirty {
		m.pending.Online = s.Online
		m.pending.OnlineDirty = true
	}
	for roomID, size := range s.Rooms {
		if _, ok := m.pending.Rooms[roomID]; !ok {
			m.pending.Rooms[roomID] = size
		}
	}
}

func (m *Redis) write(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	rooms := make([]string, 0, len(s.Rooms))
	for roomID := range s.Rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if s.OnlineDirty {
			pipe.Del(ctx, OnlineKey)
			if len(s.Online) > 0 {
				members := make([]any, len(s.Online))
				for i, id := range s.Online {
					members[i] = id
				}
				pipe.SAdd(ctx, OnlineKey, members...)
			}
		}
		for _, roomID := range rooms {
			if size := s.Rooms[roomID]; size > 0 {
				pipe.HSet(ctx, VoiceKey, roomID, size)
			} else {
				pipe.HDel(ctx, VoiceKey, roomID)
			}
		}
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}
