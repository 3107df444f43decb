package server_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/escrow/memory"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/server"
	"github.com/argus-labs/arena/pkg/settlement"
	"github.com/argus-labs/arena/pkg/testutils"
	"github.com/argus-labs/arena/pkg/tilemap"
	"github.com/argus-labs/arena/pkg/transport/transporttest"
)

const contract = "0xd9145CCE52D386f254917e481eB44e9943F39138"

func newServer(t *testing.T, opts ...server.Option) *server.Server {
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

	dir := settlement.StaticDirectory{
		"alice": {ID: "alice", Address: "0x5b38da6a701c568545dcfcb03fcb875f56beddc4"},
		"bob":   {ID: "bob", Address: "0xab8483f64d9c6d1ecf9b849ae677dd3315835cb2"},
		"carol": {ID: "carol"},
	}
	coord := settlement.NewCoordinator(memory.New(), dir, settlement.Config{
		Domain:          settlement.Domain{Name: "Arena MatchEscrow", Version: "1"},
		ChainID:         84532,
		ContractAddress: contract,
	}, settlement.WithClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC))))

	srv, err := server.New(lobbies, matches, coord, opts...)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *server.Server, method, path, user string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		bz, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(bz)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(server.HeaderUserID, user)
	}
	res, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out
}

func errorOf(t *testing.T, body []byte) server.Error {
	t.Helper()
	var res server.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &res))
	return res.Error
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := server.New(nil, nil, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, body := do(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, server.HealthResponse{Status: "ok"}, health)
}

func TestLobbies(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, body := do(t, srv, http.MethodPost, "/lobbies", "", server.CreateLobbyRequest{PlayerName: "Alice"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, errorOf(t, body).Message, server.HeaderUserID)

	code, body = do(t, srv, http.MethodPost, "/lobbies", "p1", server.CreateLobbyRequest{PlayerName: "Alice"})
	require.Equal(t, http.StatusCreated, code)
	var view lobby.View
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "ABC123", view.Code)
	assert.Equal(t, "p1", view.OwnerID)
	assert.Equal(t, lobby.StatusWaiting, view.Status)

	code, body = do(t, srv, http.MethodGet, "/lobbies/abc123", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "ABC123", view.Code)

	code, body = do(t, srv, http.MethodGet, "/lobbies/NOPE42", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errs.ErrNotFound.Error(), errorOf(t, body).Kind)

	code, _ = do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSessions_NotFound(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, body := do(t, srv, http.MethodGet, "/sessions/ABC123", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errs.ErrNotFound.Error(), errorOf(t, body).Kind)
}

func TestMatches_Lifecycle(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, body := do(t, srv, http.MethodPost, "/matches", "alice",
		server.CreateMatchRequest{PlayerBID: "bob", StakeWei: "50000000000000000"})
	require.Equal(t, http.StatusCreated, code, string(body))
	var created settlement.Created
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4", created.PlayerA)
	matchPath := "/matches/" + created.MatchID

	code, body = do(t, srv, http.MethodGet, matchPath+"/typed-data", "alice", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, errs.ErrInvalidState.Error(), errorOf(t, body).Kind)

	code, body = do(t, srv, http.MethodPost, matchPath+"/join", "alice", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, errs.ErrUnauthorized.Error(), errorOf(t, body).Kind)

	code, body = do(t, srv, http.MethodPost, matchPath+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var m escrow.Match
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, escrow.StatusActive, m.Status)

	code, body = do(t, srv, http.MethodGet, matchPath+"/typed-data", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	var td struct {
		PrimaryType string         `json:"primaryType"`
		Message     map[string]any `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &td))
	assert.Equal(t, "MatchResult", td.PrimaryType)
	assert.Equal(t, created.MatchID, td.Message["matchId"])

	code, body = do(t, srv, http.MethodPost, matchPath+"/result", "alice", settlement.Submission{
		WinnerID: "mallory", ScoreA: 3, ScoreB: 1, SigA: "0x00", SigB: "0x00", ServerNonce: 1,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errs.ErrValidationFailed.Error(), errorOf(t, body).Kind)

	code, body = do(t, srv, http.MethodPost, matchPath+"/result", "alice", settlement.Submission{
		WinnerID: "alice", ScoreA: 3, ScoreB: 1, SigA: "0x00", SigB: "0x00", ServerNonce: 1,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, errs.ErrNonceMismatch.Error(), errorOf(t, body).Kind)

	nonce := uint64(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC).UnixMilli())
	code, body = do(t, srv, http.MethodPost, matchPath+"/result", "alice", settlement.Submission{
		WinnerID: "alice", ScoreA: 3, ScoreB: 1, SigA: "0x00", SigB: "0x00", ServerNonce: nonce,
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errs.ErrSignatureInvalid.Error(), errorOf(t, body).Kind)

	code, body = do(t, srv, http.MethodGet, "/matches?status=active", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var list []escrow.Match
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.MatchID, list[0].MatchID)

	code, body = do(t, srv, http.MethodGet, "/matches?status=settled", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))

	code, _ = do(t, srv, http.MethodGet, "/matches?status=lost", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, srv, http.MethodPost, matchPath+"/cancel", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, escrow.StatusCanceled, m.Status)
}

func TestMatches_Errors(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, _ := do(t, srv, http.MethodGet, "/matches", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := do(t, srv, http.MethodPost, "/matches", "alice",
		server.CreateMatchRequest{PlayerBID: "carol", StakeWei: "1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errs.ErrValidationFailed.Error(), errorOf(t, body).Kind)

	code, _ = do(t, srv, http.MethodPost, "/matches", "alice",
		server.CreateMatchRequest{PlayerBID: "alice", StakeWei: "1"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodGet, "/matches/0x"+repeat("ab", 32), "alice", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodPost, "/matches/0x"+repeat("ab", 32)+"/tx", "alice",
		server.RecordTxRequest{Kind: "refund", TxHash: "0x" + repeat("cd", 32)})
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/matches", bytes.NewBufferString("{"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(server.HeaderUserID, "alice")
	res, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	_ = res.Body.Close()
}

func TestRecordTx(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	code, body := do(t, srv, http.MethodPost, "/matches", "alice",
		server.CreateMatchRequest{PlayerBID: "bob", StakeWei: "7"})
	require.Equal(t, http.StatusCreated, code)
	var created settlement.Created
	require.NoError(t, json.Unmarshal(body, &created))

	hash := "0x" + repeat("CD", 32)
	code, body = do(t, srv, http.MethodPost, "/matches/"+created.MatchID+"/tx", "alice",
		server.RecordTxRequest{Kind: "create", TxHash: hash})
	require.Equal(t, http.StatusOK, code, string(body))
	var m escrow.Match
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "0x"+repeat("cd", 32), m.CreateTxHash)

	code, _ = do(t, srv, http.MethodPost, "/matches/"+created.MatchID+"/tx", "carol",
		server.RecordTxRequest{Kind: "join", TxHash: hash})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestWebsocket_RequiresUpgrade(t *testing.T) {
	t.Parallel()
	called := false
	srv := newServer(t, server.WithRealtime(func(*fiber.Ctx) error {
		called = true
		return nil
	}))

	code, _ := do(t, srv, http.MethodGet, "/ws", "p1", nil)
	assert.Equal(t, http.StatusUpgradeRequired, code)
	assert.False(t, called)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusConflict, server.StatusOf(settlement.ErrNotActive))
	assert.Equal(t, http.StatusBadRequest, server.StatusOf(settlement.ErrInvalidWinner))
	assert.Equal(t, http.StatusConflict, server.StatusOf(errs.ErrNonceMismatch))
	assert.Equal(t, http.StatusUnauthorized, server.StatusOf(errs.ErrSignatureInvalid))
	assert.Equal(t, http.StatusTeapot, server.StatusOf(fiber.NewError(http.StatusTeapot)))
	assert.Equal(t, http.StatusInternalServerError, server.StatusOf(errors.New("boom")))
}

func repeat(s string, n int) string {
	return string(bytes.Repeat([]byte(s), n))
}
