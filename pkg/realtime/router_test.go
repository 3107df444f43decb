package realtime_test

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/realtime"
	"github.com/argus-labs/arena/pkg/testutils"
	"github.com/argus-labs/arena/pkg/tilemap"
	"github.com/argus-labs/arena/pkg/transport"
	"github.com/argus-labs/arena/pkg/transport/transporttest"
)

type harness struct {
	router  *realtime.Router
	rec     *transporttest.Recorder
	lobbies *lobby.Registry
	matches *match.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := transporttest.NewRecorder()
	matches := match.NewManager(
		tilemap.NewCatalog(tilemap.EmbeddedSource{}),
		rec,
		match.WithClock(clockwork.NewFakeClock()),
		match.WithRand(testutils.NewRand(t)),
	)
	t.Cleanup(matches.Shutdown)
	lobbies := lobby.NewRegistry(matches, rec,
		lobby.WithClock(clockwork.NewFakeClock()),
		lobby.WithCodeGenerator(func() string { return "ABC123" }),
	)
	t.Cleanup(lobbies.Close)
	return &harness{
		router:  realtime.NewRouter(lobbies, matches, rec, zerolog.Nop()),
		rec:     rec,
		lobbies: lobbies,
		matches: matches,
	}
}

func (h *harness) send(t *testing.T, connID, event string, payload any) {
	t.Helper()
	frame, err := transport.Encode(event, payload)
	require.NoError(t, err)
	h.router.Handle(context.Background(), connID, frame)
}

func lastError(t *testing.T, rec *transporttest.Recorder, connID, event string) transport.ErrorPayload {
	t.Helper()
	got := rec.Delivered(connID, event)
	require.NotEmpty(t, got, "no %s delivered to %s", event, connID)
	payload, ok := got[len(got)-1].Payload.(transport.ErrorPayload)
	require.True(t, ok)
	return payload
}

// lobbyWithTwo creates ABC123 owned by p1 and joins p1 on c1 and p2 on c2.
func (h *harness) lobbyWithTwo(t *testing.T) {
	t.Helper()
	_, err := h.lobbies.Create("p1", "Alice", nil)
	require.NoError(t, err)
	h.send(t, "c1", transport.EventJoinLobby, realtime.JoinLobbyRequest{Code: "abc123", PlayerID: "p1", PlayerName: "Alice"})
	h.send(t, "c2", transport.EventJoinLobby, realtime.JoinLobbyRequest{
		Code: "ABC123", PlayerID: "p2", PlayerName: "Bob", Loadout: match.Loadout{"class": "knight"},
	})
	require.Empty(t, h.rec.Events(transport.EventLobbyError))
}

func TestHandle_LobbyFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lobbyWithTwo(t)

	assert.Len(t, h.rec.Delivered("c1", transport.EventLobbySnapshot), 1)
	assert.Len(t, h.rec.Delivered("c1", transport.EventLobbyUpdated), 1)
	id, ok := h.router.PlayerOf("c2")
	require.True(t, ok)
	assert.Equal(t, "p2", id)

	h.send(t, "c2", transport.EventSendLobbyMessage, realtime.ChatRequest{Code: "ABC123", Message: "gl hf"})
	// "Bob joined the lobby" and the message itself.
	assert.Len(t, h.rec.Delivered("c1", transport.EventChatMessage), 2)

	// Only the owner may change settings.
	h.send(t, "c2", transport.EventUpdateSettings, map[string]any{"code": "ABC123", "settings": map[string]any{"duration": 1}})
	assert.Equal(t, errs.ErrUnauthorized.Error(), lastError(t, h.rec, "c2", transport.EventLobbyError).Kind)

	h.send(t, "c1", transport.EventUpdateSettings, map[string]any{
		"code":     "ABC123",
		"settings": map[string]any{"duration": 1, "map": "forest", "mode": "friendly"},
	})
	view, err := h.lobbies.Get("ABC123")
	require.NoError(t, err)
	require.NotNil(t, view.Settings.Map)
	assert.Equal(t, "forest", *view.Settings.Map)

	h.send(t, "c1", transport.EventStartMatch, realtime.CodeRequest{Code: "ABC123"})
	assert.Len(t, h.rec.Delivered("c2", transport.EventMatchStarting), 1)
	assert.Len(t, h.rec.Delivered("c2", transport.EventMatchStarted), 1)
	assert.Equal(t, 1, h.matches.Active())
}

func TestHandle_MatchFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lobbyWithTwo(t)
	h.send(t, "c1", transport.EventUpdateSettings, map[string]any{
		"code":     "ABC123",
		"settings": map[string]any{"duration": 1, "map": "forest", "mode": "friendly"},
	})
	h.send(t, "c1", transport.EventStartMatch, realtime.CodeRequest{Code: "ABC123"})
	require.Empty(t, h.rec.Events(transport.EventLobbyError))

	h.send(t, "c2", transport.EventMove, realtime.MoveRequest{Code: "ABC123", X: 64, Y: 96, Direction: "left"})
	moved := h.rec.Delivered("c1", transport.EventPlayerMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, match.MovedPayload{PlayerID: "p2", X: 64, Y: 96, Direction: "left"}, moved[0].Payload)
	assert.Empty(t, h.rec.Delivered("c2", transport.EventPlayerMoved))

	h.send(t, "c1", transport.EventUpdateHealth, realtime.UpdateHealthRequest{Code: "ABC123", PlayerID: "p1", Health: 40, AttackerID: "p2"})
	assert.Len(t, h.rec.Delivered("c2", transport.EventPlayerHealthUpdate), 1)

	h.send(t, "c1", transport.EventSendMatchMessage, realtime.ChatRequest{Code: "ABC123", Text: "nice shot"})
	assert.NotEmpty(t, h.rec.Delivered("c2", transport.EventChatMessage))

	// A connection cannot act for another player.
	h.send(t, "c1", transport.EventMove, realtime.MoveRequest{Code: "ABC123", PlayerID: "p2", X: 1, Y: 1})
	assert.Equal(t, errs.ErrUnauthorized.Error(), lastError(t, h.rec, "c1", transport.EventMatchError).Kind)

	h.send(t, "c2", transport.EventLeaveMatch, realtime.CodeRequest{Code: "ABC123"})
	ended := h.rec.Delivered("c1", transport.EventMatchEnded)
	require.Len(t, ended, 1)
	payload, ok := ended[0].Payload.(match.EndedPayload)
	require.True(t, ok)
	assert.Equal(t, match.ReasonForfeit, payload.Reason)
	assert.Equal(t, "p1", payload.Winner)
}

func TestHandle_JoinMatchAfterReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lobbyWithTwo(t)
	h.send(t, "c1", transport.EventUpdateSettings, map[string]any{
		"code":     "ABC123",
		"settings": map[string]any{"duration": 2, "map": "forest", "mode": "friendly"},
	})
	h.send(t, "c1", transport.EventStartMatch, realtime.CodeRequest{Code: "ABC123"})

	h.router.Disconnect(context.Background(), "c2")
	assert.Len(t, h.rec.Delivered("c1", transport.EventPlayerDisconnected), 1)
	_, ok := h.router.PlayerOf("c2")
	assert.False(t, ok)

	h.send(t, "c9", transport.EventJoinMatch, realtime.CodeRequest{Code: "ABC123", PlayerID: "p2"})
	states := h.rec.Delivered("c9", transport.EventMatchState)
	require.Len(t, states, 1)
	view, ok := states[0].Payload.(match.View)
	require.True(t, ok)
	assert.Equal(t, 120, view.TimeLeft)
	assert.Len(t, h.rec.Delivered("c1", transport.EventPlayerJoined), 1)

	h.send(t, "c8", transport.EventJoinMatch, realtime.CodeRequest{Code: "NOPE42", PlayerID: "p3"})
	assert.Equal(t, errs.ErrNotFound.Error(), lastError(t, h.rec, "c8", transport.EventMatchError).Kind)
}

func TestHandle_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.router.Handle(context.Background(), "c1", []byte("{not json"))
	assert.Equal(t, errs.ErrValidationFailed.Error(), lastError(t, h.rec, "c1", transport.EventLobbyError).Kind)

	h.send(t, "c1", "fly", map[string]any{})
	assert.Contains(t, lastError(t, h.rec, "c1", transport.EventLobbyError).Message, "unknown event")

	h.router.Handle(context.Background(), "c1", []byte(`{"event":"join-lobby"}`))
	assert.Equal(t, errs.ErrValidationFailed.Error(), lastError(t, h.rec, "c1", transport.EventLobbyError).Kind)

	h.send(t, "c1", transport.EventJoinLobby, realtime.JoinLobbyRequest{Code: "ZZZ999", PlayerID: "p1"})
	assert.Equal(t, errs.ErrNotFound.Error(), lastError(t, h.rec, "c1", transport.EventLobbyError).Kind)

	h.send(t, "c2", transport.EventSendMatchMessage, realtime.ChatRequest{Code: "ABC123", Text: "hi"})
	assert.Equal(t, errs.ErrValidationFailed.Error(), lastError(t, h.rec, "c2", transport.EventMatchError).Kind)
}

func TestConnect_BindsGatewayUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.lobbies.Create("p1", "Alice", nil)
	require.NoError(t, err)

	h.router.Connect("c1", "p1")
	h.send(t, "c1", transport.EventJoinLobby, realtime.JoinLobbyRequest{Code: "ABC123", PlayerID: "p2", PlayerName: "Mallory"})
	assert.Equal(t, errs.ErrUnauthorized.Error(), lastError(t, h.rec, "c1", transport.EventLobbyError).Kind)

	// Without a claimed id the bound user is used.
	h.send(t, "c1", transport.EventJoinLobby, realtime.JoinLobbyRequest{Code: "ABC123", PlayerName: "Alice"})
	assert.Len(t, h.rec.Delivered("c1", transport.EventLobbySnapshot), 1)

	h.send(t, "c1", transport.EventLeaveLobby, realtime.CodeRequest{Code: "ABC123"})
	_, err = h.lobbies.Get("ABC123")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDisconnect_Lobby(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lobbyWithTwo(t)

	h.send(t, "c2", transport.EventDisconnect, nil)
	assert.False(t, h.rec.InRoom("ABC123", "c2"))

	view, err := h.lobbies.Get("ABC123")
	require.NoError(t, err)
	require.Len(t, view.Players, 2)
	assert.True(t, view.Players[0].IsOnline)
	assert.False(t, view.Players[1].IsOnline)
}

type captureSender struct {
	frames map[string][][]byte
}

func (c *captureSender) Send(connID string, frame []byte) error {
	c.frames[connID] = append(c.frames[connID], frame)
	return nil
}

func TestDisconnect_DropsHubRooms(t *testing.T) {
	t.Parallel()
	sender := &captureSender{frames: make(map[string][][]byte)}
	hub := transport.NewHub(sender, zerolog.Nop())
	matches := match.NewManager(tilemap.NewCatalog(tilemap.EmbeddedSource{}), hub, match.WithClock(clockwork.NewFakeClock()))
	t.Cleanup(matches.Shutdown)
	lobbies := lobby.NewRegistry(matches, hub, lobby.WithCodeGenerator(func() string { return "ABC123" }))
	t.Cleanup(lobbies.Close)
	router := realtime.NewRouter(lobbies, matches, hub, zerolog.Nop())

	_, err := lobbies.Create("p1", "Alice", nil)
	require.NoError(t, err)
	frame, err := transport.Encode(transport.EventJoinLobby, realtime.JoinLobbyRequest{Code: "ABC123", PlayerID: "p1"})
	require.NoError(t, err)
	router.Handle(context.Background(), "c1", frame)
	hub.Join("side-room", "c1")

	require.Len(t, sender.frames["c1"], 1)
	var env transport.Envelope
	require.NoError(t, json.Unmarshal(sender.frames["c1"][0], &env))
	assert.Equal(t, transport.EventLobbySnapshot, env.Event)

	router.Disconnect(context.Background(), "c1")
	assert.Empty(t, hub.Members("ABC123"))
	assert.Empty(t, hub.Members("side-room"))
}
