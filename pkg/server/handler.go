package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/realtime"
	"github.com/argus-labs/arena/pkg/settlement"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Lobbies  int    `json:"lobbies"`
	Sessions int    `json:"sessions"`
}

type CreateLobbyRequest struct {
	PlayerName string        `json:"playerName"`
	Loadout    match.Loadout `json:"loadout"`
}

type CreateMatchRequest struct {
	PlayerBID string `json:"playerBId"`
	StakeWei  string `json:"stakeWei"`
}

type RecordTxRequest struct {
	Kind   string `json:"kind"`
	TxHash string `json:"txHash"`
}

// webSocketUpgrader rejects plain HTTP on the websocket route and hands the gateway identity to
// the socket.
func webSocketUpgrader(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if user := c.Get(HeaderUserID); user != "" {
		c.Locals(realtime.LocalUserID, user)
	}
	return c.Next()
}

// requireUser rejects requests without a gateway identity.
func requireUser(c *fiber.Ctx) error {
	user := c.Get(HeaderUserID)
	if user == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+HeaderUserID+" header")
	}
	c.Locals(realtime.LocalUserID, user)
	return c.Next()
}

func userOf(c *fiber.Ctx) string {
	user, _ := c.Locals(realtime.LocalUserID).(string)
	return user
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return eris.Wrap(errs.ErrValidationFailed, "failed to parse request body: "+err.Error())
	}
	return nil
}

func (s *Server) getHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:   "ok",
		Lobbies:  s.lobbies.Len(),
		Sessions: s.sessions.Active(),
	})
}

func (s *Server) postLobby(c *fiber.Ctx) error {
	var req CreateLobbyRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	view, err := s.lobbies.Create(userOf(c), req.PlayerName, req.Loadout)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *Server) getLobby(c *fiber.Ctx) error {
	view, err := s.lobbies.Get(c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	view, err := s.sessions.Snapshot(c.UserContext(), lobby.NormalizeCode(c.Params("code")))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) postMatch(c *fiber.Ctx) error {
	var req CreateMatchRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	created, err := s.settlement.CreateMatch(c.UserContext(), userOf(c), req.PlayerBID, req.StakeWei)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) listMatches(c *fiber.Ctx) error {
	status, err := escrow.ParseStatus(c.Query("status"))
	if err != nil {
		return err
	}
	matches, err := s.settlement.ListUserMatches(c.UserContext(), userOf(c), status)
	if err != nil {
		return err
	}
	if matches == nil {
		matches = []escrow.Match{}
	}
	return c.JSON(matches)
}

func (s *Server) getMatch(c *fiber.Ctx) error {
	m, err := s.settlement.GetMatch(c.UserContext(), c.Params("matchId"))
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (s *Server) joinMatch(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if err := s.settlement.JoinMatch(c.UserContext(), id, userOf(c)); err != nil {
		return err
	}
	return s.getMatch(c)
}

func (s *Server) cancelMatch(c *fiber.Ctx) error {
	id := c.Params("matchId")
	if err := s.settlement.CancelMatch(c.UserContext(), id, userOf(c)); err != nil {
		return err
	}
	return s.getMatch(c)
}

func (s *Server) getTypedData(c *fiber.Ctx) error {
	td, err := s.settlement.IssueTypedData(c.UserContext(), c.Params("matchId"))
	if err != nil {
		return err
	}
	return c.JSON(td)
}

func (s *Server) postResult(c *fiber.Ctx) error {
	var sub settlement.Submission
	if err := parseBody(c, &sub); err != nil {
		return err
	}
	sub.MatchID = c.Params("matchId")
	result, err := s.settlement.SubmitResult(c.UserContext(), sub)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *Server) postTx(c *fiber.Ctx) error {
	var req RecordTxRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	kind, err := escrow.ParseTxKind(req.Kind)
	if err != nil {
		return err
	}
	id := c.Params("matchId")
	if err := s.settlement.RecordTx(c.UserContext(), id, userOf(c), kind, req.TxHash); err != nil {
		return err
	}
	return s.getMatch(c)
}
