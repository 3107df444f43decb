package match

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/arena/pkg/assert"
	"github.com/argus-labs/arena/pkg/chat"
	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/spawn"
	"github.com/argus-labs/arena/pkg/tilemap"
	"github.com/argus-labs/arena/pkg/transport"
)

const (
	DefaultRespawnDelay = 2 * time.Second
	DefaultEvictDelay   = 30 * time.Second

	tickInterval = time.Second
)

// MapLoader resolves a map key to map data.
type MapLoader interface {
	Load(ctx context.Context, key string) (*tilemap.Map, error)
}

type Option func(*Manager)

// WithClock replaces the wall clock, typically with a clockwork fake in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithRand seeds spawn placement and winner selection.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

func WithRespawnDelay(d time.Duration) Option {
	return func(m *Manager) { m.respawnDelay = d }
}

func WithEvictDelay(d time.Duration) Option {
	return func(m *Manager) { m.evictDelay = d }
}

func WithWinnerPolicy(policy WinnerPolicy) Option {
	return func(m *Manager) { m.policy = policy }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// Manager owns every live session. Each session runs on its own actor goroutine, so operations on
// different sessions proceed concurrently while operations on one session are serialized.
type Manager struct {
	maps    MapLoader
	emitter transport.Emitter

	clock        clockwork.Clock
	log          zerolog.Logger
	respawnDelay time.Duration
	evictDelay   time.Duration
	policy       WinnerPolicy

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.RWMutex
	sessions  map[string]*actor
	evictions map[string]clockwork.Timer
	closed    bool
}

func NewManager(maps MapLoader, emitter transport.Emitter, opts ...Option) *Manager {
	m := &Manager{
		maps:         maps,
		emitter:      emitter,
		clock:        clockwork.NewRealClock(),
		log:          zerolog.Nop(),
		respawnDelay: DefaultRespawnDelay,
		evictDelay:   DefaultEvictDelay,
		policy:       RandomWinner,
		sessions:     make(map[string]*actor),
		evictions:    make(map[string]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		seed := uint64(m.clock.Now().UnixNano()) //nolint:gosec // it's ok
		m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // gameplay randomness
	}
	return m
}

// newRand derives an independent generator for one session.
func (m *Manager) newRand() *rand.Rand {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return rand.New(rand.NewPCG(m.rng.Uint64(), m.rng.Uint64())) //nolint:gosec // gameplay randomness
}

func (m *Manager) lookup(code string) *actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[code]
}

func (m *Manager) withSession(ctx context.Context, code string, fn func(a *actor, s *Session) error) error {
	a := m.lookup(code)
	if a == nil {
		return eris.Wrapf(errs.ErrNotFound, "match %s", code)
	}
	return a.call(ctx, func(s *Session) error { return fn(a, s) })
}

// Promote starts a session for a lobby roster. Promoting a code that already has a session returns
// that session unchanged. Players with a live connection are moved into the match room and sent
// their own view; players without one are skipped and have to join explicitly.
func (m *Manager) Promote(ctx context.Context, roster Roster) (View, error) {
	if roster.Code == "" {
		return View{}, eris.Wrap(errs.ErrValidationFailed, "match code is required")
	}
	if existing := m.lookup(roster.Code); existing != nil {
		return m.Snapshot(ctx, roster.Code)
	}

	world, err := m.maps.Load(ctx, roster.Settings.Map)
	if err != nil {
		return View{}, eris.Wrapf(err, "failed to load map for match %s", roster.Code)
	}
	rng := m.newRand()
	spawns := spawn.FindSpawnPositions(world, len(roster.Players), nil, false, rng)
	session, err := NewSession(roster, world, spawns, m.clock.Now())
	if err != nil {
		return View{}, err
	}

	a := newActor(session, m.clock, rng)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return View{}, eris.Wrap(errs.ErrInvalidState, "match manager is shut down")
	}
	if _, ok := m.sessions[roster.Code]; ok {
		m.mu.Unlock()
		return m.Snapshot(ctx, roster.Code)
	}
	m.sessions[roster.Code] = a
	m.mu.Unlock()

	go a.run()

	var view View
	err = a.call(ctx, func(s *Session) error {
		m.activate(a, s)
		view = s.PublicView()
		return nil
	})
	return view, err
}

func (m *Manager) activate(a *actor, s *Session) {
	a.after(tickInterval, func() { m.onTick(a) })

	for _, p := range s.Players() {
		if p.ConnID == "" {
			m.log.Warn().
				Str("code", s.Code()).
				Str("player", p.ID).
				Msg("player has no live connection, skipping start notification")
			continue
		}
		m.emitter.Join(s.Code(), p.ConnID)
		m.emitter.Emit(p.ConnID, transport.EventMatchStarted, s.SelfView(p.ID))
	}
	m.log.Info().
		Str("code", s.Code()).
		Str("map", s.Map().Key()).
		Int("players", len(s.Players())).
		Int("time_left", s.TimeLeft()).
		Msg("match started")
}

func (m *Manager) onTick(a *actor) {
	s := a.session
	res := s.Tick(func(s *Session) string { return m.policy(s, a.rng) })
	m.emitter.EmitRoom(s.Code(), transport.EventMatchTimer, TimerPayload{TimeLeft: res.TimeLeft})
	if res.Expired {
		m.end(a, res.Winner, ReasonTimeUp)
		return
	}
	if s.IsRunning() {
		a.after(tickInterval, func() { m.onTick(a) })
	}
}

// Join attaches a connection to a roster member of a running or recently ended match.
func (m *Manager) Join(ctx context.Context, code, playerID, connID string) (View, error) {
	var view View
	err := m.withSession(ctx, code, func(_ *actor, s *Session) error {
		p, err := s.SetConnection(playerID, connID)
		if err != nil {
			return err
		}
		m.emitter.Join(code, connID)
		view = s.SelfView(playerID)
		m.emitter.Emit(connID, transport.EventMatchState, view)
		m.emitter.EmitRoomExcept(code, connID, transport.EventPlayerJoined, playerView(p))
		return nil
	})
	return view, err
}

// Move records a client reported position and relays it to the rest of the room. Positions are
// not validated against the map.
func (m *Manager) Move(ctx context.Context, code, playerID string, x, y float64, direction string) error {
	return m.withSession(ctx, code, func(_ *actor, s *Session) error {
		if !s.IsRunning() {
			return eris.Wrapf(errs.ErrInvalidState, "match %s has ended", code)
		}
		p, err := s.Move(playerID, x, y, direction)
		if err != nil {
			return err
		}
		m.emitter.EmitRoomExcept(code, p.ConnID, transport.EventPlayerMoved, MovedPayload{
			PlayerID:  p.ID,
			X:         p.Position.X,
			Y:         p.Position.Y,
			Direction: p.Direction,
		})
		return nil
	})
}

// UpdateHealth applies a health report. The report that drops a player to zero defeats them,
// credits attackerID with a kill and schedules a respawn. Reports for a player already at zero
// are ignored until they respawn.
func (m *Manager) UpdateHealth(ctx context.Context, code, playerID string, health int, attackerID string) error {
	return m.withSession(ctx, code, func(a *actor, s *Session) error {
		if !s.IsRunning() {
			return eris.Wrapf(errs.ErrInvalidState, "match %s has ended", code)
		}
		p, ok := s.Player(playerID)
		if !ok {
			return eris.Wrapf(errs.ErrNotFound, "player %s is not in match %s", playerID, code)
		}
		if p.Health == 0 {
			return nil
		}

		defeated, err := s.ApplyDamage(playerID, health)
		if err != nil {
			return err
		}
		m.emitter.EmitRoom(code, transport.EventPlayerHealthUpdate, HealthPayload{
			PlayerID:   p.ID,
			Health:     p.Health,
			AttackerID: attackerID,
		})
		if defeated {
			m.defeat(a, s, p, attackerID)
		}
		return nil
	})
}

func (m *Manager) defeat(a *actor, s *Session, victim *Player, attackerID string) {
	payload := DefeatedPayload{PlayerID: victim.ID, PlayerName: victim.Name}
	if s.RecordKill(attackerID, victim.ID) {
		attacker, _ := s.Player(attackerID)
		stats := attacker.Stats
		payload.AttackerID = attacker.ID
		payload.AttackerName = attacker.Name
		payload.AttackerStats = &stats
	}
	m.emitter.EmitRoom(s.Code(), transport.EventPlayerDefeated, payload)
	m.log.Debug().Str("code", s.Code()).Str("victim", victim.ID).Str("attacker", attackerID).Msg("player defeated")

	victimID := victim.ID
	a.after(m.respawnDelay, func() { m.respawn(a, victimID) })
}

func (m *Manager) respawn(a *actor, playerID string) {
	s := a.session
	if !s.IsRunning() {
		return
	}
	p, ok := s.Player(playerID)
	if !ok || p.Forfeited {
		return
	}

	world := s.Map()
	placement := spawn.Respawn(world, s.OccupiedTiles(playerID), a.rng)
	if placement.Exhausted() {
		m.log.Warn().Err(errs.ErrExhausted).
			Str("code", s.Code()).
			Str("player", playerID).
			Int("attempts", placement.Attempts).
			Msg("respawn search exhausted, using fallback tile")
	}
	assert.That(world.InBounds(placement.Tile), "respawn tile %v outside map %s", placement.Tile, world.Key())

	p, err := s.Respawn(playerID, world.TileToPixel(placement.Tile))
	if err != nil {
		m.log.Error().Err(err).Str("code", s.Code()).Msg("failed to respawn player")
		return
	}
	m.emitter.EmitRoom(s.Code(), transport.EventPlayerRespawned, RespawnedPayload{
		PlayerID:  p.ID,
		Position:  p.Position,
		Health:    p.Health,
		Direction: p.Direction,
		Stats:     p.Stats,
	})
}

// SendMessage relays a chat line from a roster member to the match room.
func (m *Manager) SendMessage(ctx context.Context, code, playerID, text string) error {
	return m.withSession(ctx, code, func(_ *actor, s *Session) error {
		p, ok := s.Player(playerID)
		if !ok {
			return eris.Wrapf(errs.ErrUnauthorized, "player %s is not in match %s", playerID, code)
		}
		msg, err := chat.NewPlayerMessage(p.ID, p.Name, text, m.clock.Now())
		if err != nil {
			return err
		}
		m.emitter.EmitRoom(code, transport.EventChatMessage, msg)
		return nil
	})
}

// Leave forfeits a player. When at most one contender remains the match ends by forfeit.
func (m *Manager) Leave(ctx context.Context, code, playerID string) error {
	return m.withSession(ctx, code, func(a *actor, s *Session) error {
		p, ok := s.Player(playerID)
		if !ok {
			return eris.Wrapf(errs.ErrNotFound, "player %s is not in match %s", playerID, code)
		}
		connID := p.ConnID
		contending, err := s.Forfeit(playerID)
		if err != nil {
			return err
		}
		m.emitter.Leave(code, connID)
		m.emitter.EmitRoom(code, transport.EventPlayerDisconnected, DisconnectedPayload{PlayerID: playerID, Reason: "left"})

		if s.IsRunning() && len(contending) <= 1 {
			winner := ""
			if len(contending) == 1 {
				winner = contending[0].ID
			}
			m.end(a, winner, ReasonForfeit)
		}
		return nil
	})
}

// OnDisconnect marks the player holding connID offline in whichever session they play in.
func (m *Manager) OnDisconnect(ctx context.Context, connID string) {
	m.mu.RLock()
	actors := make([]*actor, 0, len(m.sessions))
	for _, a := range m.sessions {
		actors = append(actors, a)
	}
	m.mu.RUnlock()

	for _, a := range actors {
		err := a.call(ctx, func(s *Session) error {
			p, ok := s.MarkOffline(connID)
			if !ok {
				return nil
			}
			m.emitter.Leave(s.Code(), connID)
			m.emitter.EmitRoom(s.Code(), transport.EventPlayerDisconnected,
				DisconnectedPayload{PlayerID: p.ID, Reason: "disconnected"})
			return nil
		})
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			m.log.Warn().Err(err).Str("conn", connID).Msg("failed to process disconnect")
		}
	}
}

// EndSession ends a match explicitly. Ending an ended match has no effect.
func (m *Manager) EndSession(ctx context.Context, code, winnerID string, reason EndReason) error {
	return m.withSession(ctx, code, func(a *actor, _ *Session) error {
		m.end(a, winnerID, reason)
		return nil
	})
}

func (m *Manager) end(a *actor, winnerID string, reason EndReason) {
	s := a.session
	if !s.End(winnerID, reason, m.clock.Now()) {
		return
	}
	a.cancelTimers()

	payload := EndedPayload{
		Winner:     winnerID,
		Reason:     reason,
		Rankings:   s.Rank(),
		FinalState: s.PublicView(),
	}
	announcement := "Game over!"
	if winner, ok := s.Player(winnerID); ok {
		payload.WinnerName = winner.Name
		announcement = "Game over! Winner: " + winner.Name
	}
	m.emitter.EmitRoom(s.Code(), transport.EventMatchEnded, payload)
	m.emitter.EmitRoom(s.Code(), transport.EventChatMessage, chat.NewSystemMessage(announcement, m.clock.Now()))

	m.log.Info().Str("code", s.Code()).Str("winner", winnerID).Str("reason", string(reason)).Msg("match ended")
	m.scheduleEviction(s.Code())
}

func (m *Manager) scheduleEviction(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.evictions[code] = m.clock.AfterFunc(m.evictDelay, func() { m.evict(code) })
}

func (m *Manager) evict(code string) {
	m.mu.Lock()
	a := m.sessions[code]
	delete(m.sessions, code)
	delete(m.evictions, code)
	m.mu.Unlock()

	if a != nil {
		a.stop()
		m.log.Debug().Str("code", code).Msg("match evicted")
	}
}

// Snapshot returns the public view of a live or recently ended match.
func (m *Manager) Snapshot(ctx context.Context, code string) (View, error) {
	var view View
	err := m.withSession(ctx, code, func(_ *actor, s *Session) error {
		view = s.PublicView()
		return nil
	})
	return view, err
}

// Active returns the number of sessions held, including ended ones awaiting eviction.
// Has reports whether a session under code is live or not yet evicted.
func (m *Manager) Has(code string) bool {
	return m.lookup(code) != nil
}

func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops every session and pending eviction.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	actors := make([]*actor, 0, len(m.sessions))
	for code, a := range m.sessions {
		actors = append(actors, a)
		delete(m.sessions, code)
	}
	for code, t := range m.evictions {
		t.Stop()
		delete(m.evictions, code)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
}
