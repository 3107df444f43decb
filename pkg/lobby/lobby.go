// Package lobby holds pre-match lobbies: membership, ownership, settings and the handoff of a full
// lobby to the match manager.
package lobby

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/match"
)

var (
	ErrInsufficientPlayers = eris.Wrap(errs.ErrValidationFailed, "at least 2 players are required to start")
	ErrIncompleteSettings  = eris.Wrap(errs.ErrValidationFailed, "lobby settings are incomplete")
)

// MinPlayers is the smallest roster that can start a match.
const MinPlayers = 2

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusStarting Status = "starting"
)

// Modes that put a stake in escrow.
const (
	ModeWagered = "wagered"
	ModeRated   = "rated"
)

// Settings are nullable until the owner sets them. A patch only overwrites the fields it carries.
type Settings struct {
	Duration *int     `json:"duration"`
	Map      *string  `json:"map"`
	Mode     *string  `json:"mode"`
	Stake    *float64 `json:"stake"`
}

func (s *Settings) merge(patch Settings) {
	if patch.Duration != nil {
		s.Duration = patch.Duration
	}
	if patch.Map != nil {
		s.Map = patch.Map
	}
	if patch.Mode != nil {
		s.Mode = patch.Mode
	}
	if patch.Stake != nil {
		s.Stake = patch.Stake
	}
}

// IsWagered reports whether the mode requires a stake.
func IsWagered(mode string) bool {
	return mode == ModeWagered || mode == ModeRated
}

// validate checks that a match can be started with these settings.
func (s Settings) validate() error {
	if s.Duration == nil || s.Map == nil || *s.Map == "" || s.Mode == nil || *s.Mode == "" {
		return eris.Wrap(ErrIncompleteSettings, "duration, map and mode must be set")
	}
	if *s.Duration <= 0 {
		return eris.Wrapf(errs.ErrValidationFailed, "duration must be a positive number of minutes, got %d", *s.Duration)
	}
	if IsWagered(*s.Mode) && (s.Stake == nil || *s.Stake <= 0) {
		return eris.Wrapf(ErrIncompleteSettings, "%s mode requires a positive stake", *s.Mode)
	}
	return nil
}

func (s Settings) toMatch() match.Settings {
	out := match.Settings{}
	if s.Duration != nil {
		out.DurationMinutes = *s.Duration
	}
	if s.Map != nil {
		out.Map = *s.Map
	}
	if s.Mode != nil {
		out.Mode = *s.Mode
	}
	if s.Stake != nil {
		out.Stake = *s.Stake
	}
	return out
}

type Member struct {
	ID       string
	Name     string
	ConnID   string
	Loadout  match.Loadout
	JoinedAt time.Time
}

type Lobby struct {
	Code      string
	OwnerID   string
	Players   []*Member
	Settings  Settings
	Status    Status
	CreatedAt time.Time
}

func (l *Lobby) member(playerID string) (*Member, int) {
	for i, m := range l.Players {
		if m.ID == playerID {
			return m, i
		}
	}
	return nil, -1
}

func (l *Lobby) memberByConn(connID string) *Member {
	if connID == "" {
		return nil
	}
	for _, m := range l.Players {
		if m.ConnID == connID {
			return m
		}
	}
	return nil
}

func (l *Lobby) roster() match.Roster {
	roster := match.Roster{
		Code:     l.Code,
		Settings: l.Settings.toMatch(),
		Players:  make([]match.Entrant, 0, len(l.Players)),
	}
	for _, m := range l.Players {
		roster.Players = append(roster.Players, match.Entrant{
			ID:      m.ID,
			Name:    m.Name,
			ConnID:  m.ConnID,
			Loadout: m.Loadout,
		})
	}
	return roster
}

// MemberView is a lobby member as seen by clients.
type MemberView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Loadout  match.Loadout `json:"loadout,omitempty"`
	IsOnline bool          `json:"isOnline"`
	IsOwner  bool          `json:"isOwner"`
	JoinedAt time.Time     `json:"joinedAt"`
}

// View is the lobby snapshot sent in lobby-snapshot and lobby-updated events.
type View struct {
	Code      string       `json:"code"`
	OwnerID   string       `json:"ownerId"`
	Players   []MemberView `json:"players"`
	Settings  Settings     `json:"settings"`
	Status    Status       `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (l *Lobby) view() View {
	v := View{
		Code:      l.Code,
		OwnerID:   l.OwnerID,
		Players:   make([]MemberView, 0, len(l.Players)),
		Settings:  l.Settings,
		Status:    l.Status,
		CreatedAt: l.CreatedAt,
	}
	for _, m := range l.Players {
		v.Players = append(v.Players, MemberView{
			ID:       m.ID,
			Name:     m.Name,
			Loadout:  m.Loadout,
			IsOnline: m.ConnID != "",
			IsOwner:  m.ID == l.OwnerID,
			JoinedAt: m.JoinedAt,
		})
	}
	return v
}

// StartingPayload is the body of match-starting.
type StartingPayload struct {
	Code     string         `json:"code"`
	Settings match.Settings `json:"settings"`
}
