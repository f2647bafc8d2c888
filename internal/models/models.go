package models

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input")
)

const (
	DefaultAvatar = "🦋"
	DefaultColor  = "#4f6ef7"
)

// User is the public identity of an account. It never carries credentials.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	Color     string `json:"color"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// Channel is a text channel. Every channel id doubles as the id of its voice room.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	IsDM        bool   `json:"isDm"`
	CreatedBy   string `json:"createdBy,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Message is a persisted chat message with a snapshot of its author's profile.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	Color     string `json:"color"`
}

// FriendRequest is a pending request together with the sender's profile.
type FriendRequest struct {
	ID        string `json:"id"`
	FromID    string `json:"fromId"`
	ToID      string `json:"toId"`
	CreatedAt int64  `json:"createdAt"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	Color     string `json:"color"`
}

// Participant is a member of a voice room: an identity snapshot bound to one connection.
type Participant struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
	Avatar       string `json:"avatar"`
	Color        string `json:"color"`
	Muted        bool   `json:"muted"`
}

func NewParticipant(user User, connID string) Participant {
	return Participant{
		UserID:       user.ID,
		ConnectionID: connID,
		Username:     user.Username,
		Avatar:       user.Avatar,
		Color:        user.Color,
	}
}

// VoiceRoom is a read-only snapshot of an active voice room.
type VoiceRoom struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// SessionInfo describes one live connection for the admin API.
type SessionInfo struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	TextRoom     string `json:"textRoom,omitempty"`
	VoiceRoom    string `json:"voiceRoom,omitempty"`
	ConnectedAt  int64  `json:"connectedAt"`
}

func IsDMChannel(channelID string) bool {
	return len(channelID) > 3 && channelID[:3] == "dm_"
}
