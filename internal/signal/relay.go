// Package signal forwards WebRTC negotiation payloads between two connections.
package signal

import (
	"encoding/json"

	"nexus/internal/logging"
	"nexus/internal/models"

	"github.com/rs/zerolog"
)

// Directory answers whether a connection can currently receive relays.
type Directory interface {
	Live(connID string) bool
}

type Sender interface {
	Send(connID string, ev models.ServerEvent) bool
}

// Relay is stateless: it never inspects the payload and never reports a
// missing target back to the sender.
type Relay struct {
	directory Directory
	sender    Sender
	log       zerolog.Logger
}

func NewRelay(directory Directory, sender Sender) *Relay {
	return &Relay{
		directory: directory,
		sender:    sender,
		log:       logging.For("signal"),
	}
}

// Forward delivers payload to the target annotated with the sender's
// connection. Offers and answers also carry roomID. It reports whether the
// event was handed to the target.
func (r *Relay) Forward(kind models.SignalKind, from, to, roomID string, payload json.RawMessage) bool {
	if to == "" || to == from || !r.directory.Live(to) {
		r.log.Debug().
			Str("kind", string(kind)).
			Str("from", from).
			Str("to", to).
			Msg("relay target not found, dropped")
		return false
	}

	ev := models.VoiceRelay{
		Kind:           kind,
		FromConnection: from,
		Payload:        payload,
	}
	if kind != models.SignalIceCandidate {
		ev.RoomID = roomID
	}
	return r.sender.Send(to, ev)
}
