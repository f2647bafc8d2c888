package models

import (
	"encoding/json"
	"fmt"
)

// Wire format: every frame in either direction is {"type": "...", "data": {...}}.
// Both directions are closed sets; adding an event means adding a case to
// DecodeClientEvent or a type below, and to the hub's dispatch switch.

type ClientEventType string

const (
	ClientAuthenticate         ClientEventType = "authenticate"
	ClientJoinTextRoom         ClientEventType = "joinTextRoom"
	ClientSendChatMessage      ClientEventType = "sendChatMessage"
	ClientSetTyping            ClientEventType = "setTyping"
	ClientJoinVoice            ClientEventType = "joinVoice"
	ClientLeaveVoice           ClientEventType = "leaveVoice"
	ClientVoiceOffer           ClientEventType = "voiceOffer"
	ClientVoiceAnswer          ClientEventType = "voiceAnswer"
	ClientVoiceIce             ClientEventType = "voiceIce"
	ClientSetMuted             ClientEventType = "setMuted"
	ClientSendFriendRequest    ClientEventType = "sendFriendRequest"
	ClientAcceptFriendRequest  ClientEventType = "acceptFriendRequest"
	ClientDeclineFriendRequest ClientEventType = "declineFriendRequest"
	ClientCreateChannel        ClientEventType = "createChannel"
	ClientDeleteChannel        ClientEventType = "deleteChannel"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "iceCandidate"
)

// ClientEvent is an inbound request. The set of implementations is closed.
type ClientEvent interface {
	clientEvent()
}

type Authenticate struct {
	UserID string `json:"userId"`
}

type JoinTextRoom struct {
	RoomID string `json:"roomId"`
}

type SendChatMessage struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type SetTyping struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type JoinVoice struct {
	RoomID string `json:"roomId"`
}

type LeaveVoice struct {
	RoomID string `json:"roomId"`
}

// VoiceSignal carries an opaque negotiation payload toward one connection.
type VoiceSignal struct {
	Kind             SignalKind      `json:"-"`
	TargetConnection string          `json:"targetConnection"`
	RoomID           string          `json:"roomId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
}

type SetMuted struct {
	RoomID string `json:"roomId"`
	Muted  bool   `json:"muted"`
}

type SendFriendRequest struct {
	ToID string `json:"toId"`
}

type AcceptFriendRequest struct {
	RequestID string `json:"requestId"`
	FromID    string `json:"fromId"`
}

type DeclineFriendRequest struct {
	RequestID string `json:"requestId"`
}

type CreateChannel struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

type DeleteChannel struct {
	ChannelID string `json:"channelId"`
}

// Malformed stands in for a frame that could not be decoded.
type Malformed struct {
	Reason string
}

func (Authenticate) clientEvent()         {}
func (JoinTextRoom) clientEvent()         {}
func (SendChatMessage) clientEvent()      {}
func (SetTyping) clientEvent()            {}
func (JoinVoice) clientEvent()            {}
func (LeaveVoice) clientEvent()           {}
func (VoiceSignal) clientEvent()          {}
func (SetMuted) clientEvent()             {}
func (SendFriendRequest) clientEvent()    {}
func (AcceptFriendRequest) clientEvent()  {}
func (DeclineFriendRequest) clientEvent() {}
func (CreateChannel) clientEvent()        {}
func (DeleteChannel) clientEvent()        {}
func (Malformed) clientEvent()            {}

type clientEnvelope struct {
	Type ClientEventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeClientEvent parses one inbound frame. Errors wrap ErrInvalidInput.
func DecodeClientEvent(frame []byte) (ClientEvent, error) {
	var env clientEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var (
		ev  ClientEvent
		err error
	)
	switch env.Type {
	case ClientAuthenticate:
		var e Authenticate
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientJoinTextRoom:
		var e JoinTextRoom
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientSendChatMessage:
		var e SendChatMessage
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientSetTyping:
		var e SetTyping
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientJoinVoice:
		var e JoinVoice
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientLeaveVoice:
		var e LeaveVoice
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientVoiceOffer, ClientVoiceAnswer, ClientVoiceIce:
		e := VoiceSignal{Kind: signalKindOf(env.Type)}
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientSetMuted:
		var e SetMuted
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientSendFriendRequest:
		var e SendFriendRequest
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientAcceptFriendRequest:
		var e AcceptFriendRequest
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientDeclineFriendRequest:
		var e DeclineFriendRequest
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientCreateChannel:
		var e CreateChannel
		err = unmarshalData(env.Data, &e)
		ev = e
	case ClientDeleteChannel:
		var e DeleteChannel
		err = unmarshalData(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, env.Type, err)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func signalKindOf(t ClientEventType) SignalKind {
	switch t {
	case ClientVoiceOffer:
		return SignalOffer
	case ClientVoiceAnswer:
		return SignalAnswer
	default:
		return SignalIceCandidate
	}
}

type ServerEventType string

const (
	ServerSession               ServerEventType = "session"
	ServerOnlinePresenceChanged ServerEventType = "onlinePresenceChanged"
	ServerNewMessage            ServerEventType = "newMessage"
	ServerUserTyping            ServerEventType = "userTyping"
	ServerVoicePeers            ServerEventType = "voicePeers"
	ServerVoicePeerJoined       ServerEventType = "voicePeerJoined"
	ServerVoicePeerLeft         ServerEventType = "voicePeerLeft"
	ServerVoicePeerMuted        ServerEventType = "voicePeerMuted"
	ServerVoiceRoomUpdated      ServerEventType = "voiceRoomUpdated"
	ServerVoiceOffer            ServerEventType = "voiceOffer"
	ServerVoiceAnswer           ServerEventType = "voiceAnswer"
	ServerVoiceIce              ServerEventType = "voiceIce"
	ServerErrorNotice           ServerEventType = "errorNotice"
	ServerFriendRequest         ServerEventType = "friendRequest"
	ServerRequestSent           ServerEventType = "requestSent"
	ServerFriendAdded           ServerEventType = "friendAdded"
	ServerRequestDeclined       ServerEventType = "requestDeclined"
	ServerChannelCreated        ServerEventType = "channelCreated"
	ServerChannelJoined         ServerEventType = "channelJoined"
	ServerChannelDeleted        ServerEventType = "channelDeleted"
	ServerUserUpdated           ServerEventType = "userUpdated"
)

// ServerEvent is an outbound notification. The set of implementations is closed.
type ServerEvent interface {
	Type() ServerEventType
	serverEvent()
}

type SessionReady struct {
	ConnectionID string      `json:"connectionId"`
	User         User        `json:"user"`
	Online       []string    `json:"online"`
	VoiceRooms   []VoiceRoom `json:"voiceRooms"`
}

type OnlinePresenceChanged struct {
	OnlineIdentities []string `json:"onlineIdentities"`
}

type NewMessage struct {
	Message
}

type UserTyping struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// VoicePeers is sent to a joiner only: the peers it must send offers to.
type VoicePeers struct {
	RoomID string        `json:"roomId"`
	Peers  []Participant `json:"peers"`
}

type VoicePeerJoined struct {
	RoomID      string      `json:"roomId"`
	Participant Participant `json:"participant"`
}

type VoicePeerLeft struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

type VoicePeerMuted struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Muted        bool   `json:"muted"`
}

type VoiceRoomUpdated struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// VoiceRelay is a relayed negotiation payload. Payload is forwarded untouched.
type VoiceRelay struct {
	Kind           SignalKind      `json:"-"`
	FromConnection string          `json:"fromConnection"`
	RoomID         string          `json:"roomId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

type FriendRequestReceived struct {
	FriendRequest
}

type FriendRequestSent struct {
	FriendRequest
}

type FriendAdded struct {
	User
}

type RequestDeclined struct {
	RequestID string `json:"requestId"`
}

type ChannelCreated struct {
	Channel
}

type ChannelJoined struct {
	ChannelID string `json:"channelId"`
}

type ChannelDeleted struct {
	ChannelID string `json:"channelId"`
}

type UserUpdated struct {
	User
}

func (SessionReady) Type() ServerEventType          { return ServerSession }
func (OnlinePresenceChanged) Type() ServerEventType { return ServerOnlinePresenceChanged }
func (NewMessage) Type() ServerEventType            { return ServerNewMessage }
func (UserTyping) Type() ServerEventType            { return ServerUserTyping }
func (VoicePeers) Type() ServerEventType            { return ServerVoicePeers }
func (VoicePeerJoined) Type() ServerEventType       { return ServerVoicePeerJoined }
func (VoicePeerLeft) Type() ServerEventType         { return ServerVoicePeerLeft }
func (VoicePeerMuted) Type() ServerEventType        { return ServerVoicePeerMuted }
func (VoiceRoomUpdated) Type() ServerEventType      { return ServerVoiceRoomUpdated }
func (ErrorNotice) Type() ServerEventType           { return ServerErrorNotice }
func (FriendRequestReceived) Type() ServerEventType { return ServerFriendRequest }
func (FriendRequestSent) Type() ServerEventType     { return ServerRequestSent }
func (FriendAdded) Type() ServerEventType           { return ServerFriendAdded }
func (RequestDeclined) Type() ServerEventType       { return ServerRequestDeclined }
func (ChannelCreated) Type() ServerEventType        { return ServerChannelCreated }
func (ChannelJoined) Type() ServerEventType         { return ServerChannelJoined }
func (ChannelDeleted) Type() ServerEventType        { return ServerChannelDeleted }
func (UserUpdated) Type() ServerEventType           { return ServerUserUpdated }

func (r VoiceRelay) Type() ServerEventType {
	switch r.Kind {
	case SignalOffer:
		return ServerVoiceOffer
	case SignalAnswer:
		return ServerVoiceAnswer
	default:
		return ServerVoiceIce
	}
}

func (SessionReady) serverEvent()          {}
func (OnlinePresenceChanged) serverEvent() {}
func (NewMessage) serverEvent()            {}
func (UserTyping) serverEvent()            {}
func (VoicePeers) serverEvent()            {}
func (VoicePeerJoined) serverEvent()       {}
func (VoicePeerLeft) serverEvent()         {}
func (VoicePeerMuted) serverEvent()        {}
func (VoiceRoomUpdated) serverEvent()      {}
func (VoiceRelay) serverEvent()            {}
func (ErrorNotice) serverEvent()           {}
func (FriendRequestReceived) serverEvent() {}
func (FriendRequestSent) serverEvent()     {}
func (FriendAdded) serverEvent()           {}
func (RequestDeclined) serverEvent()       {}
func (ChannelCreated) serverEvent()        {}
func (ChannelJoined) serverEvent()         {}
func (ChannelDeleted) serverEvent()        {}
func (UserUpdated) serverEvent()           {}

// Envelope is the outbound frame written to the socket.
type Envelope struct {
	Type ServerEventType `json:"type"`
	Data ServerEvent     `json:"data"`
}

func Wrap(ev ServerEvent) Envelope {
	return Envelope{Type: ev.Type(), Data: ev}
}
