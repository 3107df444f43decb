// Package realtime connects game clients to the lobby registry and the match manager. Frames are
// decoded into typed requests, the sending connection is bound to one player, and failures go
// back to the sender as lobby-error or match-error.
package realtime

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/transport"
)

// Lobbies is the part of lobby.Registry the router drives.
type Lobbies interface {
	Join(code, playerID, playerName string, loadout match.Loadout, connID string) (lobby.View, error)
	UpdateSettings(code, connID string, patch lobby.Settings) (lobby.View, error)
	StartMatch(ctx context.Context, code, connID string) (match.View, error)
	Leave(code, playerID string) error
	HandleDisconnect(connID string)
	SendMessage(code, connID, text string) error
}

// Matches is the part of match.Manager the router drives.
type Matches interface {
	Join(ctx context.Context, code, playerID, connID string) (match.View, error)
	Move(ctx context.Context, code, playerID string, x, y float64, direction string) error
	UpdateHealth(ctx context.Context, code, playerID string, health int, attackerID string) error
	SendMessage(ctx context.Context, code, playerID, text string) error
	Leave(ctx context.Context, code, playerID string) error
	OnDisconnect(ctx context.Context, connID string)
}

// Dropper forgets every room a connection joined. transport.Hub implements it.
type Dropper interface {
	Drop(connID string)
}

type JoinLobbyRequest struct {
	Code       string        `json:"code"`
	PlayerID   string        `json:"playerId"`
	PlayerName string        `json:"playerName"`
	Loadout    match.Loadout `json:"loadout"`
}

// ChatRequest carries a chat line. Lobby clients send it as message, match clients as text.
type ChatRequest struct {
	Code    string `json:"code"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (r ChatRequest) body() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

type UpdateSettingsRequest struct {
	Code     string         `json:"code"`
	Settings lobby.Settings `json:"settings"`
}

// CodeRequest names a lobby or match and optionally the acting player.
type CodeRequest struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

type MoveRequest struct {
	Code      string  `json:"code"`
	PlayerID  string  `json:"playerId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
}

type UpdateHealthRequest struct {
	Code       string `json:"code"`
	PlayerID   string `json:"playerId"`
	Health     int    `json:"health"`
	AttackerID string `json:"attackerId"`
}

type Router struct {
	lobbies Lobbies
	matches Matches
	emitter transport.Emitter
	log     zerolog.Logger

	mu      sync.Mutex
	players map[string]string
}

func NewRouter(lobbies Lobbies, matches Matches, emitter transport.Emitter, logger zerolog.Logger) *Router {
	return &Router{
		lobbies: lobbies,
		matches: matches,
		emitter: emitter,
		log:     logger,
		players: make(map[string]string),
	}
}

// Connect binds connID to userID when the gateway authenticated the socket.
func (r *Router) Connect(connID, userID string) {
	r.log.Debug().Str("conn", connID).Str("user", userID).Msg("Client connected")
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[connID] = userID
}

// identify returns the player acting on connID. The first claimed id binds the connection; later
// claims must match it.
func (r *Router) identify(connID, claimed string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bound, ok := r.players[connID]
	switch {
	case ok && claimed != "" && claimed != bound:
		return "", eris.Wrapf(errs.ErrUnauthorized, "connection belongs to %s, not %s", bound, claimed)
	case ok:
		return bound, nil
	case claimed == "":
		return "", eris.Wrap(errs.ErrValidationFailed, "playerId is required")
	default:
		r.players[connID] = claimed
		return claimed, nil
	}
}

// PlayerOf returns the player bound to connID.
func (r *Router) PlayerOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.players[connID]
	return id, ok
}

// Handle processes one frame from connID.
func (r *Router) Handle(ctx context.Context, connID string, frame []byte) {
	env, err := transport.Decode(frame)
	if err != nil {
		r.fail(connID, transport.EventLobbyError, "", err)
		return
	}

	switch env.Event {
	case transport.EventJoinLobby, transport.EventSendLobbyMessage, transport.EventUpdateSettings,
		transport.EventStartMatch, transport.EventLeaveLobby:
		if err := r.handleLobby(ctx, connID, env); err != nil {
			r.fail(connID, transport.EventLobbyError, env.Event, err)
		}
	case transport.EventJoinMatch, transport.EventMove, transport.EventUpdateHealth,
		transport.EventSendMatchMessage, transport.EventLeaveMatch:
		if err := r.handleMatch(ctx, connID, env); err != nil {
			r.fail(connID, transport.EventMatchError, env.Event, err)
		}
	case transport.EventDisconnect:
		r.Disconnect(ctx, connID)
	default:
		r.fail(connID, transport.EventLobbyError, env.Event,
			eris.Wrapf(errs.ErrValidationFailed, "unknown event %q", env.Event))
	}
}

func (r *Router) handleLobby(ctx context.Context, connID string, env transport.Envelope) error {
	switch env.Event {
	case transport.EventJoinLobby:
		var req JoinLobbyRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		_, err = r.lobbies.Join(req.Code, playerID, req.PlayerName, req.Loadout, connID)
		return err

	case transport.EventSendLobbyMessage:
		var req ChatRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		return r.lobbies.SendMessage(req.Code, connID, req.body())

	case transport.EventUpdateSettings:
		var req UpdateSettingsRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		_, err := r.lobbies.UpdateSettings(req.Code, connID, req.Settings)
		return err

	case transport.EventStartMatch:
		var req CodeRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		_, err := r.lobbies.StartMatch(ctx, req.Code, connID)
		return err

	case transport.EventLeaveLobby:
		var req CodeRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		return r.lobbies.Leave(req.Code, playerID)
	}
	return nil
}

func (r *Router) handleMatch(ctx context.Context, connID string, env transport.Envelope) error {
	switch env.Event {
	case transport.EventJoinMatch:
		var req CodeRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		_, err = r.matches.Join(ctx, lobby.NormalizeCode(req.Code), playerID, connID)
		return err

	case transport.EventMove:
		var req MoveRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		return r.matches.Move(ctx, lobby.NormalizeCode(req.Code), playerID, req.X, req.Y, req.Direction)

	case transport.EventUpdateHealth:
		var req UpdateHealthRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		return r.matches.UpdateHealth(ctx, lobby.NormalizeCode(req.Code), playerID, req.Health, req.AttackerID)

	case transport.EventSendMatchMessage:
		var req ChatRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, "")
		if err != nil {
			return err
		}
		return r.matches.SendMessage(ctx, lobby.NormalizeCode(req.Code), playerID, req.body())

	case transport.EventLeaveMatch:
		var req CodeRequest
		if err := transport.DecodeData(env, &req); err != nil {
			return err
		}
		playerID, err := r.identify(connID, req.PlayerID)
		if err != nil {
			return err
		}
		return r.matches.Leave(ctx, lobby.NormalizeCode(req.Code), playerID)
	}
	return nil
}

// Disconnect releases connID everywhere. Lobby and match membership survive so the player can
// reconnect.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	r.lobbies.HandleDisconnect(connID)
	r.matches.OnDisconnect(ctx, connID)
	if d, ok := r.emitter.(Dropper); ok {
		d.Drop(connID)
	}
	r.mu.Lock()
	delete(r.players, connID)
	r.mu.Unlock()
	r.log.Debug().Str("conn", connID).Msg("Client disconnected")
}

func (r *Router) fail(connID, event, cause string, err error) {
	r.log.Debug().Err(err).Str("conn", connID).Str("event", cause).Msg("Client request failed")
	r.emitter.Emit(connID, event, transport.NewErrorPayload(err))
}
