package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexus/internal/content"
	"nexus/internal/logging"
	"nexus/internal/models"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Wrong username or password"
	minPasswordLength  = 4
	maxFreeAttempts    = 3
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegistrationRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
	Color    string `json:"color"`
}

type LoginResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	User        *models.User `json:"user,omitempty"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry int64        `json:"tokenExpiry,omitempty"`
}

// CredentialStore persists accounts. Implemented by storage.BboltStorage.
type CredentialStore interface {
	CreateUser(user models.User, passwordHash string) (models.User, error)
	GetCredentials(username string) (models.User, string, error)
}

type loginAttempts struct {
	Failed int64
	Last   int64
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

type AuthService struct {
	Config
	store      CredentialStore
	liveTokens geche.Geche[string, string]
	attempts   *geche.Locker[string, loginAttempts]
	now        func() time.Time
	cost       int
	log        zerolog.Logger
}

func (c *Config) Validate() error {
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must not be negative")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		attempts: geche.NewLocker[string, loginAttempts](
			geche.NewMapTTLCache[string, loginAttempts](ctx, time.Hour, time.Minute),
		),
		now:  time.Now,
		cost: bcrypt.DefaultCost,
		log:  logging.For("auth"),
	}, nil
}

// Register validates and stores a new account. Validation failures wrap
// models.ErrInvalidInput and carry a message fit for the user.
func (as *AuthService) Register(req RegistrationRequest) (models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return models.User{}, fmt.Errorf("%w: Missing fields", models.ErrInvalidInput)
	}
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, fmt.Errorf("%w: %s", models.ErrInvalidInput, err.Error())
	}
	if len(req.Password) < minPasswordLength {
		return models.User{}, fmt.Errorf("%w: Password must be %d+ characters", models.ErrInvalidInput, minPasswordLength)
	}

	avatar := content.StripTags(strings.TrimSpace(req.Avatar))
	if avatar == "" {
		avatar = models.DefaultAvatar
	}
	color := req.Color
	if !content.ValidateColor(color) {
		color = models.DefaultColor
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), as.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := as.store.CreateUser(models.User{
		Username: username,
		Avatar:   avatar,
		Color:    color,
	}, string(hash))
	if err != nil {
		return models.User{}, err
	}

	as.log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// AddUser creates an account with a generated password and returns it.
func (as *AuthService) AddUser(username string) (models.User, string, error) {
	password, err := as.generateToken()
	if err != nil {
		return models.User{}, "", err
	}
	password = strings.TrimRight(password, "=")
	user, err := as.Register(RegistrationRequest{Username: username, Password: password})
	if err != nil {
		return models.User{}, "", err
	}
	return user, password, nil
}

func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()
	key := strings.ToLower(strings.TrimSpace(req.Username))

	tx := as.attempts.Lock()
	defer tx.Unlock()

	attempts, _ := tx.Get(key)
	if attempts.Failed > maxFreeAttempts {
		nextAttempt := attempts.Last + 30*(attempts.Failed*attempts.Failed)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	user, hash, err := as.store.GetCredentials(key)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password))
	}
	if err != nil {
		tx.Set(key, loginAttempts{Failed: attempts.Failed + 1, Last: now.Unix()})
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	token, err := as.generateToken()
	if err != nil {
		as.log.Error().Err(err).Str("user_id", user.ID).Msg("login failed")
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}, ""
	}

	as.liveTokens.Set(token, user.ID)
	_ = tx.Del(key)

	return LoginResponse{
		Success:     true,
		User:        &user,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}, user.ID
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

func (as *AuthService) GetUserID(token string) (string, error) {
	if token == "" {
		return "", models.ErrNotFound
	}
	return as.liveTokens.Get(token)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
