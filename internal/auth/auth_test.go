package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nexus/internal/models"
	"nexus/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthService(t *testing.T) {
	const t0Unix = 1700000000

	createService := func(t *testing.T) (*AuthService, *time.Time) {
		store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "auth.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		svc, err := NewAuthService(ctx, Config{TokenExpiry: time.Hour}, store)
		require.NoError(t, err)
		svc.cost = bcrypt.MinCost

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	t.Run("Register", func(t *testing.T) {
		svc, _ := createService(t)

		u, err := svc.Register(RegistrationRequest{Username: "  alice ", Password: "pass1"})
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, models.DefaultAvatar, u.Avatar)
		assert.Equal(t, models.DefaultColor, u.Color)

		_, err = svc.Register(RegistrationRequest{Username: "ALICE", Password: "pass2"})
		assert.True(t, errors.Is(err, models.ErrAlreadyExists))
	})

	t.Run("Register validation", func(t *testing.T) {
		svc, _ := createService(t)

		cases := []RegistrationRequest{
			{Username: "", Password: "pass"},
			{Username: "a", Password: "pass"},
			{Username: "bob", Password: "abc"},
			{Username: "bad name", Password: "pass"},
		}
		for _, req := range cases {
			_, err := svc.Register(req)
			assert.True(t, errors.Is(err, models.ErrInvalidInput), "request %+v", req)
		}
	})

	t.Run("Login and Logoff", func(t *testing.T) {
		svc, _ := createService(t)
		u, err := svc.Register(RegistrationRequest{Username: "bob", Password: "secret", Avatar: "🐙", Color: "#123456"})
		require.NoError(t, err)
		assert.Equal(t, "🐙", u.Avatar)

		resp, userID := svc.Login(LoginRequest{Username: "Bob", Password: "secret"})
		require.True(t, resp.Success)
		assert.Equal(t, u.ID, userID)
		require.NotNil(t, resp.User)
		assert.Equal(t, "#123456", resp.User.Color)
		assert.Equal(t, int64(t0Unix+3600), resp.TokenExpiry)

		got, err := svc.GetUserID(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got)

		require.NoError(t, svc.Logoff(resp.Token))
		_, err = svc.GetUserID(resp.Token)
		assert.Error(t, err)
	})

	t.Run("Login throttling", func(t *testing.T) {
		svc, now := createService(t)
		_, err := svc.Register(RegistrationRequest{Username: "carol", Password: "secret"})
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			resp, _ := svc.Login(LoginRequest{Username: "carol", Password: "wrong"})
			require.False(t, resp.Success)
			assert.Equal(t, loginFailedMessage, resp.Message)
		}

		resp, _ := svc.Login(LoginRequest{Username: "carol", Password: "secret"})
		require.False(t, resp.Success)
		assert.Contains(t, resp.Message, "Too many failed login attempts")

		*now = now.Add(10 * time.Minute)
		resp, _ = svc.Login(LoginRequest{Username: "carol", Password: "secret"})
		require.True(t, resp.Success)
	})

	t.Run("AddUser", func(t *testing.T) {
		svc, _ := createService(t)
		u, password, err := svc.AddUser("dave")
		require.NoError(t, err)
		require.NotEmpty(t, password)

		resp, userID := svc.Login(LoginRequest{Username: "dave", Password: password})
		require.True(t, resp.Success)
		assert.Equal(t, u.ID, userID)
	})

	t.Run("Unknown token", func(t *testing.T) {
		svc, _ := createService(t)
		_, err := svc.GetUserID("")
		assert.Error(t, err)
		_, err = svc.GetUserID("nope")
		assert.Error(t, err)
	})
}
