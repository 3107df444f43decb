// Package server is the HTTP control surface: lobby creation and lookup, live session snapshots,
// the escrow match lifecycle and the realtime websocket endpoint.
package server

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/settlement"
)

const (
	// HeaderUserID carries the caller identity set by the gateway.
	HeaderUserID = "X-User-ID"

	shutdownTimeout = 5 * time.Second
)

// Lobbies is the part of lobby.Registry the HTTP surface uses.
type Lobbies interface {
	Create(ownerID, ownerName string, loadout match.Loadout) (lobby.View, error)
	Get(code string) (lobby.View, error)
	Len() int
}

// Sessions is the part of match.Manager the HTTP surface uses.
type Sessions interface {
	Snapshot(ctx context.Context, code string) (match.View, error)
	Active() int
}

// Settlement is the escrow match lifecycle, implemented by settlement.Coordinator.
type Settlement interface {
	CreateMatch(ctx context.Context, playerA, playerB, stakeWei string) (settlement.Created, error)
	JoinMatch(ctx context.Context, matchID, playerID string) error
	CancelMatch(ctx context.Context, matchID, playerID string) error
	IssueTypedData(ctx context.Context, matchID string) (apitypes.TypedData, error)
	SubmitResult(ctx context.Context, sub settlement.Submission) (settlement.Settlement, error)
	RecordTx(ctx context.Context, matchID, playerID string, kind escrow.TxKind, hash string) error
	GetMatch(ctx context.Context, matchID string) (escrow.Match, error)
	ListUserMatches(ctx context.Context, userID string, status escrow.Status) ([]escrow.Match, error)
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// WithAllowedOrigins restricts CORS. Defaults to any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithRealtime mounts the websocket handler at /ws.
func WithRealtime(handler fiber.Handler) Option {
	return func(s *Server) { s.realtime = handler }
}

type Server struct {
	app *fiber.App
	log zerolog.Logger

	lobbies    Lobbies
	sessions   Sessions
	settlement Settlement
	realtime   fiber.Handler
	origins    []string
}

func New(lobbies Lobbies, sessions Sessions, settle Settlement, opts ...Option) (*Server, error) {
	if lobbies == nil || sessions == nil || settle == nil {
		return nil, eris.New("server requires lobbies, sessions and settlement")
	}
	s := &Server{
		log:        zerolog.Nop(),
		lobbies:    lobbies,
		sessions:   sessions,
		settlement: settle,
		origins:    []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		Network:               "tcp", // Enable server listening on both ipv4 & ipv6 (default: ipv4 only)
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.origins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, " + HeaderUserID,
	}))
	s.setupRoutes()

	return s, nil
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.getHealth)

	if s.realtime != nil {
		s.app.Use("/ws", webSocketUpgrader)
		s.app.Get("/ws", s.realtime)
	}

	s.app.Get("/lobbies/:code", s.getLobby)
	s.app.Get("/sessions/:code", s.getSession)
	s.app.Post("/lobbies", requireUser, s.postLobby)

	m := s.app.Group("/matches", requireUser)
	m.Post("/", s.postMatch)
	m.Get("/", s.listMatches)
	m.Get("/:matchId", s.getMatch)
	m.Post("/:matchId/join", s.joinMatch)
	m.Post("/:matchId/cancel", s.cancelMatch)
	m.Get("/:matchId/typed-data", s.getTypedData)
	m.Post("/:matchId/result", s.postResult)
	m.Post("/:matchId/tx", s.postTx)
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	serverErr := make(chan error, 1)

	go func() {
		s.log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := s.app.Listen(addr); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return eris.Wrap(err, "server encountered an error")
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down server")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return eris.Wrap(err, "error shutting down server")
		}
	}
	s.log.Info().Msg("Successfully shut down server")
	return nil
}
