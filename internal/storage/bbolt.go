package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"nexus/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers          = []byte("users")
	bucketUsernames      = []byte("usernames")
	bucketChannels       = []byte("channels")
	bucketChannelMembers = []byte("channel_members")
	bucketMessages       = []byte("messages")
	bucketFriends        = []byte("friends")
	bucketFriendRequests = []byte("friend_requests")
	bucketRequestPairs   = []byte("request_pairs")
)

var defaultChannels = []models.Channel{
	{ID: "ch_general", Name: "general", Icon: "🌐", Description: "Talk about anything"},
	{ID: "ch_vibes", Name: "vibes", Icon: "🎵", Description: "Music & good energy"},
	{ID: "ch_tech", Name: "tech-talk", Icon: "💻", Description: "Dev stuff & nerd talk"},
	{ID: "ch_gaming", Name: "gaming", Icon: "🎮", Description: "Games & trash talk"},
	{ID: "ch_random", Name: "random", Icon: "🎲", Description: "Chaos welcome"},
}

type BboltStorage struct {
	db *bbolt.DB
	// identities caches public profiles; every write to a user refreshes it.
	identities geche.Geche[string, models.User]
	now        func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	s := &BboltStorage{
		db:         db,
		identities: geche.NewMapCache[string, models.User](),
		now:        time.Now,
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketUsernames,
			bucketChannels,
			bucketChannelMembers,
			bucketMessages,
			bucketFriends,
			bucketFriendRequests,
			bucketRequestPairs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return s.seedChannels(tx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return s, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) seedChannels(tx *bbolt.Tx) error {
	b := tx.Bucket(bucketChannels)
	// Offsets keep the seeds in declaration order when listed by creation time.
	base := s.now().Unix() - int64(len(defaultChannels))
	for i, ch := range defaultChannels {
		if b.Get([]byte(ch.ID)) != nil {
			continue
		}
		dbChannel := DBChannel{
			ID:          ch.ID,
			Name:        ch.Name,
			Icon:        ch.Icon,
			Description: ch.Description,
			CreatedAt:   base + int64(i),
		}
		if err := put(b, &dbChannel); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser stores a new account. Usernames are unique case-insensitively.
func (s *BboltStorage) CreateUser(user models.User, passwordHash string) (models.User, error) {
	if user.ID == "" {
		user.ID = shortID(10)
	}
	if user.CreatedAt == 0 {
		user.CreatedAt = s.now().Unix()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		nameKey := []byte(strings.ToLower(user.Username))
		if names.Get(nameKey) != nil {
			return fmt.Errorf("username %s: %w", user.Username, models.ErrAlreadyExists)
		}
		if err := names.Put(nameKey, []byte(user.ID)); err != nil {
			return err
		}
		dbUser := DBUser{
			ID:           user.ID,
			Username:     user.Username,
			PasswordHash: passwordHash,
			Avatar:       user.Avatar,
			Color:        user.Color,
			CreatedAt:    user.CreatedAt,
		}
		return put(tx.Bucket(bucketUsers), &dbUser)
	})
	if err != nil {
		return models.User{}, err
	}

	s.identities.Set(user.ID, user)
	return user, nil
}

// GetUser returns the public identity for id.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	if u, err := s.identities.Get(id); err == nil {
		return u, nil
	}

	var dbUser DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx.Bucket(bucketUsers), []byte(id), &dbUser)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, err)
	}

	u := dbUser.toModel()
	s.identities.Set(id, u)
	return u, nil
}

// GetCredentials looks a user up by name and returns its password hash.
func (s *BboltStorage) GetCredentials(username string) (models.User, string, error) {
	var dbUser DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsernames).Get([]byte(strings.ToLower(username)))
		if id == nil {
			return models.ErrNotFound
		}
		return get(tx.Bucket(bucketUsers), id, &dbUser)
	})
	if err != nil {
		return models.User{}, "", fmt.Errorf("user %s: %w", username, err)
	}
	return dbUser.toModel(), dbUser.PasswordHash, nil
}

// GetUserByName looks a user up by name, ignoring case.
func (s *BboltStorage) GetUserByName(username string) (models.User, error) {
	u, _, err := s.GetCredentials(username)
	return u, err
}

func (s *BboltStorage) ListUsers() ([]models.User, error) {
	return s.filterUsers(func(models.User) bool { return true }, 0)
}

// SearchUsers returns users whose name contains q, case-insensitively.
func (s *BboltStorage) SearchUsers(q string, limit int) ([]models.User, error) {
	q = strings.ToLower(q)
	return s.filterUsers(func(u models.User) bool {
		return strings.Contains(strings.ToLower(u.Username), q)
	}, limit)
}

func (s *BboltStorage) filterUsers(match func(models.User) bool, limit int) ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if u := dbUser.toModel(); match(u) {
				users = append(users, u)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// UpdateProfile changes the mutable profile fields of a user.
func (s *BboltStorage) UpdateProfile(id, avatar, color string) (models.User, error) {
	var user models.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		var dbUser DBUser
		if err := get(b, []byte(id), &dbUser); err != nil {
			return err
		}
		if avatar != "" {
			dbUser.Avatar = avatar
		}
		if color != "" {
			dbUser.Color = color
		}
		user = dbUser.toModel()
		return put(b, &dbUser)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, err)
	}

	s.identities.Set(id, user)
	return user, nil
}

// ListChannels returns the public (non-DM) channels in creation order.
func (s *BboltStorage) ListChannels() ([]models.Channel, error) {
	channels := []models.Channel{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			var dbChannel DBChannel
			if err := dbChannel.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbChannel.IsDM {
				channels = append(channels, dbChannel.toModel())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt != channels[j].CreatedAt {
			return channels[i].CreatedAt < channels[j].CreatedAt
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func (s *BboltStorage) GetChannel(id string) (models.Channel, error) {
	var dbChannel DBChannel
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx.Bucket(bucketChannels), []byte(id), &dbChannel)
	})
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s: %w", id, err)
	}
	return dbChannel.toModel(), nil
}

func (s *BboltStorage) CreateChannel(ch models.Channel) (models.Channel, error) {
	if ch.ID == "" {
		ch.ID = "ch_" + shortID(8)
	}
	if ch.CreatedAt == 0 {
		ch.CreatedAt = s.now().Unix()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		if b.Get([]byte(ch.ID)) != nil {
			return fmt.Errorf("channel %s: %w", ch.ID, models.ErrAlreadyExists)
		}
		return put(b, channelToDB(ch))
	})
	if err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

// DeleteChannel removes a channel with its members and message history.
func (s *BboltStorage) DeleteChannel(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("channel %s: %w", id, models.ErrNotFound)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketChannelMembers), pairPrefix(id)); err != nil {
			return err
		}
		msgs := tx.Bucket(bucketMessages)
		if msgs.Bucket([]byte(id)) != nil {
			return msgs.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// EnsureDM returns the direct-message channel between a and b, creating it on first use.
func (s *BboltStorage) EnsureDM(a, b string) (models.Channel, error) {
	if a == b {
		return models.Channel{}, fmt.Errorf("dm with self: %w", models.ErrInvalidInput)
	}
	id := DMChannelID(a, b)

	var ch models.Channel
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, userID := range []string{a, b} {
			if tx.Bucket(bucketUsers).Get([]byte(userID)) == nil {
				return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
			}
		}

		channels := tx.Bucket(bucketChannels)
		var dbChannel DBChannel
		err := get(channels, []byte(id), &dbChannel)
		switch {
		case err == nil:
			ch = dbChannel.toModel()
			return nil
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		ch = models.Channel{
			ID:        id,
			Name:      id,
			Icon:      "💬",
			IsDM:      true,
			CreatedBy: a,
			CreatedAt: s.now().Unix(),
		}
		if err := put(channels, channelToDB(ch)); err != nil {
			return err
		}
		members := tx.Bucket(bucketChannelMembers)
		for _, userID := range []string{a, b} {
			if err := members.Put(pairKey(id, userID), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

func (s *BboltStorage) IsChannelMember(channelID, userID string) (bool, error) {
	var member bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		member = tx.Bucket(bucketChannelMembers).Get(pairKey(channelID, userID)) != nil
		return nil
	})
	return member, err
}

// DMChannelID derives the deterministic id of the DM channel between two users.
func DMChannelID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return fmt.Sprintf("dm_%s_%s", ids[0], ids[1])
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:        u.ID,
		Username:  u.Username,
		Avatar:    u.Avatar,
		Color:     u.Color,
		CreatedAt: u.CreatedAt,
	}
}

func (c *DBChannel) toModel() models.Channel {
	return models.Channel{
		ID:          c.ID,
		Name:        c.Name,
		Icon:        c.Icon,
		Description: c.Description,
		IsDM:        c.IsDM,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
	}
}

func channelToDB(ch models.Channel) *DBChannel {
	return &DBChannel{
		ID:          ch.ID,
		Name:        ch.Name,
		Icon:        ch.Icon,
		Description: ch.Description,
		IsDM:        ch.IsDM,
		CreatedBy:   ch.CreatedBy,
		CreatedAt:   ch.CreatedAt,
	}
}

// Helpers

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put(v.Key(), data)
}

func get(b *bbolt.Bucket, key []byte, v Storeable) error {
	data := b.Get(key)
	if data == nil {
		return models.ErrNotFound
	}
	return v.UnmarshalBinary(data)
}

func pairPrefix(a string) []byte {
	return append([]byte(a), 0)
}

func pairKey(a, b string) []byte {
	return append(pairPrefix(a), b...)
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
