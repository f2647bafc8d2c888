package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Username     string `msgpack:"username"`
	PasswordHash string `msgpack:"passwordHash"`
	Avatar       string `msgpack:"avatar"`
	Color        string `msgpack:"color"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChannel struct {
	ID          string `msgpack:"id"`
	Name        string `msgpack:"name"`
	Icon        string `msgpack:"icon"`
	Description string `msgpack:"description"`
	IsDM        bool   `msgpack:"isDm"`
	CreatedBy   string `msgpack:"createdBy"`
	CreatedAt   int64  `msgpack:"createdAt"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBMessage is keyed by its per-channel sequence number, not by ID,
// so a cursor walks a channel in insertion order.
type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	ChannelID string `msgpack:"channelId"`
	AuthorID  string `msgpack:"authorId"`
	Content   string `msgpack:"content"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBFriendRequest struct {
	ID        string `msgpack:"id"`
	FromID    string `msgpack:"fromId"`
	ToID      string `msgpack:"toId"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBFriendRequest) Key() []byte {
	return []byte(r.ID)
}

func (r *DBFriendRequest) MarshalBinary() (data []byte, err error) {
	type alias DBFriendRequest
	return msgpack.Marshal((*alias)(r))
}

func (r *DBFriendRequest) UnmarshalBinary(data []byte) error {
	type alias DBFriendRequest
	return msgpack.Unmarshal(data, (*alias)(r))
}
