// Package match runs live combat sessions. A Session holds the authoritative state of one match
// and is only touched by the goroutine that owns it; Manager owns every live session and drives
// their timers.
package match

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/tilemap"
)

const (
	MaxHealth              = 100
	DefaultDurationMinutes = 5
	DefaultDirection       = "down"

	killPoints  = 10
	deathPoints = 5
)

type Status string

const (
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

type EndReason string

const (
	ReasonElimination EndReason = "elimination"
	ReasonTimeUp      EndReason = "time_up"
	ReasonForfeit     EndReason = "forfeit"
	ReasonAborted     EndReason = "aborted"
)

// Loadout is the opaque character selection a player brought from the lobby.
type Loadout map[string]any

// Settings are the resolved lobby settings a session runs with.
type Settings struct {
	DurationMinutes int     `json:"duration"`
	Map             string  `json:"map"`
	Mode            string  `json:"mode"`
	Stake           float64 `json:"stake,omitempty"`
}

// Entrant is a lobby member handed over at promotion.
type Entrant struct {
	ID      string
	Name    string
	ConnID  string
	Loadout Loadout
}

// Roster is the lobby snapshot a session is built from.
type Roster struct {
	Code     string
	Settings Settings
	Players  []Entrant
}

type Stats struct {
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
	Score  int `json:"score"`
}

// Score is the only scoring rule.
func Score(kills, deaths int) int {
	return kills*killPoints - deaths*deathPoints
}

type Player struct {
	ID        string
	Name      string
	Loadout   Loadout
	Health    int
	Position  tilemap.Position
	Direction string
	ConnID    string
	IsOnline  bool
	Forfeited bool
	Stats     Stats
}

func (p *Player) recomputeScore() {
	p.Stats.Score = Score(p.Stats.Kills, p.Stats.Deaths)
}

// Session is one running match.
type Session struct {
	code      string
	settings  Settings
	world     *tilemap.Map
	players   []*Player
	status    Status
	timeLeft  int
	winner    string
	reason    EndReason
	createdAt time.Time
	endedAt   time.Time
}

// NewSession builds a session from a roster. It starts no timers; spawns must hold one distinct
// tile per roster member in roster order.
func NewSession(roster Roster, world *tilemap.Map, spawns []tilemap.Tile, now time.Time) (*Session, error) {
	if world == nil {
		return nil, eris.Wrap(errs.ErrValidationFailed, "session requires map data")
	}
	if len(roster.Players) == 0 {
		return nil, eris.Wrap(errs.ErrValidationFailed, "session requires at least one player")
	}
	if len(spawns) != len(roster.Players) {
		return nil, eris.Wrapf(errs.ErrExhausted,
			"map %q fits %d spawn points for %d players", world.Key(), len(spawns), len(roster.Players))
	}

	minutes := roster.Settings.DurationMinutes
	if minutes <= 0 {
		minutes = DefaultDurationMinutes
	}
	settings := roster.Settings
	settings.DurationMinutes = minutes

	s := &Session{
		code:      roster.Code,
		settings:  settings,
		world:     world,
		status:    StatusRunning,
		timeLeft:  minutes * 60,
		createdAt: now,
	}
	s.initializePlayers(roster.Players, spawns)
	return s, nil
}

func (s *Session) initializePlayers(entrants []Entrant, spawns []tilemap.Tile) {
	s.players = make([]*Player, 0, len(entrants))
	for i, e := range entrants {
		s.players = append(s.players, &Player{
			ID:        e.ID,
			Name:      e.Name,
			Loadout:   e.Loadout,
			Health:    MaxHealth,
			Position:  s.world.TileToPixel(spawns[i]),
			Direction: DefaultDirection,
			ConnID:    e.ConnID,
			IsOnline:  e.ConnID != "",
		})
	}
}

func (s *Session) Code() string { return s.code }
func (s *Session) Status() Status { return s.status }
func (s *Session) TimeLeft() int { return s.timeLeft }
func (s *Session) Winner() string { return s.winner }
func (s *Session) Reason() EndReason { return s.reason }
func (s *Session) Map() *tilemap.Map { return s.world }
func (s *Session) Settings() Settings { return s.settings }
func (s *Session) Players() []*Player { return s.players }
func (s *Session) IsRunning() bool { return s.status == StatusRunning }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) EndedAt() time.Time { return s.endedAt }

func (s *Session) Player(id string) (*Player, bool) {
	for _, p := range s.players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (s *Session) PlayerByConn(connID string) (*Player, bool) {
	if connID == "" {
		return nil, false
	}
	for _, p := range s.players {
		if p.ConnID == connID {
			return p, true
		}
	}
	return nil, false
}

func (s *Session) mustPlayer(id string) (*Player, error) {
	p, ok := s.Player(id)
	if !ok {
		return nil, eris.Wrapf(errs.ErrNotFound, "player %s is not in match %s", id, s.code)
	}
	return p, nil
}

// SetConnection attaches a live connection to a roster member.
func (s *Session) SetConnection(playerID, connID string) (*Player, error) {
	p, err := s.mustPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.ConnID = connID
	p.IsOnline = connID != ""
	return p, nil
}

// MarkOffline flags the player holding connID as offline and keeps them on the roster.
func (s *Session) MarkOffline(connID string) (*Player, bool) {
	p, ok := s.PlayerByConn(connID)
	if !ok {
		return nil, false
	}
	p.IsOnline = false
	p.ConnID = ""
	return p, true
}

// Move stores a client reported position verbatim.
func (s *Session) Move(playerID string, x, y float64, direction string) (*Player, error) {
	p, err := s.mustPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.Position = tilemap.Position{X: x, Y: y}
	if direction != "" {
		p.Direction = direction
	}
	return p, nil
}

// ApplyDamage sets a player's health, clamped to [0, MaxHealth]. defeated is true only for the
// update that takes health from above zero to zero.
func (s *Session) ApplyDamage(playerID string, newHealth int) (defeated bool, err error) {
	p, err := s.mustPlayer(playerID)
	if err != nil {
		return false, err
	}
	previous := p.Health
	p.Health = min(max(newHealth, 0), MaxHealth)
	return previous > 0 && p.Health == 0, nil
}

// RecordKill credits killerID with a kill. Self kills and unknown killers are ignored.
func (s *Session) RecordKill(killerID, victimID string) bool {
	if killerID == "" || killerID == victimID {
		return false
	}
	killer, ok := s.Player(killerID)
	if !ok {
		return false
	}
	killer.Stats.Kills++
	killer.recomputeScore()
	return true
}

// Respawn restores a defeated player at pos and counts the death.
func (s *Session) Respawn(playerID string, pos tilemap.Position) (*Player, error) {
	p, err := s.mustPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.Health = MaxHealth
	p.Position = pos
	p.Direction = DefaultDirection
	p.Stats.Deaths++
	p.recomputeScore()
	return p, nil
}

// Forfeit removes a player from contention. It returns the players still contending.
func (s *Session) Forfeit(playerID string) ([]*Player, error) {
	p, err := s.mustPlayer(playerID)
	if err != nil {
		return nil, err
	}
	p.Forfeited = true
	p.IsOnline = false
	p.ConnID = ""

	contending := make([]*Player, 0, len(s.players))
	for _, other := range s.players {
		if !other.Forfeited {
			contending = append(contending, other)
		}
	}
	return contending, nil
}

// OccupiedTiles returns the tiles of alive, contending players other than exceptID.
func (s *Session) OccupiedTiles(exceptID string) []tilemap.Tile {
	tiles := make([]tilemap.Tile, 0, len(s.players))
	for _, p := range s.players {
		if p.ID == exceptID || p.Health <= 0 || p.Forfeited {
			continue
		}
		tiles = append(tiles, s.world.PixelToTile(p.Position))
	}
	return tiles
}

// TickResult reports the countdown after one tick.
type TickResult struct {
	TimeLeft int
	Expired  bool
	Winner   string
}

// Tick advances the countdown by one second. When it reaches zero the policy picks the winner;
// the caller ends the session with ReasonTimeUp.
func (s *Session) Tick(pick func(*Session) string) TickResult {
	if s.status != StatusRunning {
		return TickResult{TimeLeft: s.timeLeft}
	}
	if s.timeLeft > 0 {
		s.timeLeft--
	}
	if s.timeLeft > 0 {
		return TickResult{TimeLeft: s.timeLeft}
	}
	return TickResult{TimeLeft: 0, Expired: true, Winner: pick(s)}
}

// End finalizes scores and marks the session ended. Only the first call has an effect; it
// reports whether this call ended the session.
func (s *Session) End(winnerID string, reason EndReason, now time.Time) bool {
	if s.status == StatusEnded {
		return false
	}
	for _, p := range s.players {
		p.recomputeScore()
	}
	s.status = StatusEnded
	s.winner = winnerID
	s.reason = reason
	s.endedAt = now
	return true
}
