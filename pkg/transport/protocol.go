// Package transport defines the realtime protocol spoken with game clients and the room hub
// that fans events out to connections.
package transport

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

// Client to server events.
const (
	EventJoinLobby        = "join-lobby"
	EventSendLobbyMessage = "send-lobby-message"
	EventUpdateSettings   = "update-settings"
	EventStartMatch       = "start-match"
	EventLeaveLobby       = "leave-lobby"
	EventJoinMatch        = "join-match"
	EventMove             = "move"
	EventUpdateHealth     = "update-health"
	EventSendMatchMessage = "send-match-message"
	EventLeaveMatch       = "leave-match"
	EventDisconnect       = "disconnect"
)

// Server to client events.
const (
	EventLobbySnapshot      = "lobby-snapshot"
	EventLobbyUpdated       = "lobby-updated"
	EventLobbyError         = "lobby-error"
	EventMatchStarting      = "match-starting"
	EventMatchState         = "match-state"
	EventMatchStarted       = "match-started"
	EventPlayerJoined       = "player-joined"
	EventPlayerMoved        = "player-moved"
	EventPlayerHealthUpdate = "player-health-update"
	EventPlayerDefeated     = "player-defeated"
	EventPlayerRespawned    = "player-respawned"
	EventPlayerDisconnected = "player-disconnected"
	EventMatchTimer         = "match-timer"
	EventMatchEnded         = "match-ended"
	EventMatchError         = "match-error"
	EventChatMessage        = "chat-message"
)

// Envelope is the frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the body of lobby-error and match-error events.
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// NewErrorPayload describes err for a client.
func NewErrorPayload(err error) ErrorPayload {
	p := ErrorPayload{Message: err.Error()}
	if kind := errs.Kind(err); kind != nil {
		p.Kind = kind.Error()
	}
	return p
}

// Encode frames payload under event.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to encode %s payload", event)
		}
		data = raw
	}
	bz, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to encode %s envelope", event)
	}
	return bz, nil
}

// Decode parses a frame received from a client.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, eris.Wrapf(errs.ErrValidationFailed, "malformed frame: %v", err)
	}
	if env.Event == "" {
		return Envelope{}, eris.Wrap(errs.ErrValidationFailed, "frame has no event")
	}
	return env, nil
}

// DecodeData unmarshals the payload of env into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return eris.Wrapf(errs.ErrValidationFailed, "%s requires a payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return eris.Wrapf(errs.ErrValidationFailed, "invalid %s payload: %v", env.Event, err)
	}
	return nil
}
