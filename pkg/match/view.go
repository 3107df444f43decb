package match

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/tilemap"
)

// PlayerView is a player as seen by clients. Connection ids never leave the server.
type PlayerView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Loadout   Loadout          `json:"loadout,omitempty"`
	Health    int              `json:"health"`
	Position  tilemap.Position `json:"position"`
	Direction string           `json:"direction"`
	IsOnline  bool             `json:"isOnline"`
	Forfeited bool             `json:"forfeited,omitempty"`
	Stats     Stats            `json:"stats"`
	IsYou     *bool            `json:"isYou,omitempty"`
}

// View is a session snapshot. Self views set IsYou on every player; public views leave it out.
type View struct {
	Code      string       `json:"code"`
	Status    Status       `json:"status"`
	Settings  Settings     `json:"settings"`
	Map       tilemap.Info `json:"map"`
	Players   []PlayerView `json:"players"`
	TimeLeft  int          `json:"timeLeft"`
	Winner    string       `json:"winner,omitempty"`
	EndReason EndReason    `json:"endReason,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   *time.Time   `json:"endedAt,omitempty"`
}

// PublicView is the snapshot broadcast to a room.
func (s *Session) PublicView() View {
	return s.view("", false)
}

// SelfView is the snapshot sent to one player.
func (s *Session) SelfView(playerID string) View {
	return s.view(playerID, true)
}

func (s *Session) view(self string, withSelf bool) View {
	v := View{
		Code:      s.code,
		Status:    s.status,
		Settings:  s.settings,
		Map:       s.world.Info(),
		Players:   make([]PlayerView, 0, len(s.players)),
		TimeLeft:  s.timeLeft,
		Winner:    s.winner,
		EndReason: s.reason,
		CreatedAt: s.createdAt,
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		v.EndedAt = &endedAt
	}
	for _, p := range s.players {
		pv := playerView(p)
		if withSelf {
			isYou := p.ID == self
			pv.IsYou = &isYou
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

func playerView(p *Player) PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		Loadout:   p.Loadout,
		Health:    p.Health,
		Position:  p.Position,
		Direction: p.Direction,
		IsOnline:  p.IsOnline,
		Forfeited: p.Forfeited,
		Stats:     p.Stats,
	}
}

// Ranking is one row of the final standings.
type Ranking struct {
	Rank    int     `json:"rank"`
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Kills   int     `json:"kills"`
	Deaths  int     `json:"deaths"`
	Score   int     `json:"score"`
	KDRatio float64 `json:"kdRatio"`
}

// KDRatio is kills per death, or the kill count for a player who never died.
func KDRatio(kills, deaths int) float64 {
	if deaths == 0 {
		return float64(kills)
	}
	return float64(kills) / float64(deaths)
}

// Rank orders players by score, then kills, then K/D ratio, all descending. Players tied on all
// three keep roster order.
func (s *Session) Rank() []Ranking {
	ordered := make([]*Player, len(s.players))
	copy(ordered, s.players)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Stats, ordered[j].Stats
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kills != b.Kills {
			return a.Kills > b.Kills
		}
		return KDRatio(a.Kills, a.Deaths) > KDRatio(b.Kills, b.Deaths)
	})

	rankings := make([]Ranking, 0, len(ordered))
	for i, p := range ordered {
		rankings = append(rankings, Ranking{
			Rank:    i + 1,
			ID:      p.ID,
			Name:    p.Name,
			Kills:   p.Stats.Kills,
			Deaths:  p.Stats.Deaths,
			Score:   Score(p.Stats.Kills, p.Stats.Deaths),
			KDRatio: math.Round(KDRatio(p.Stats.Kills, p.Stats.Deaths)*100) / 100,
		})
	}
	return rankings
}

// WinnerPolicy picks the winner of a match whose timer ran out.
type WinnerPolicy func(s *Session, rng *rand.Rand) string

const (
	PolicyRandom   = "random"
	PolicyTopScore = "top_score"
)

// RandomWinner picks uniformly among the players still contending.
func RandomWinner(s *Session, rng *rand.Rand) string {
	contending := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		if !p.Forfeited {
			contending = append(contending, p)
		}
	}
	if len(contending) == 0 {
		return ""
	}
	return contending[rng.IntN(len(contending))].ID
}

// TopScoreWinner picks the best ranked player still contending.
func TopScoreWinner(s *Session, _ *rand.Rand) string {
	for _, r := range s.Rank() {
		if p, ok := s.Player(r.ID); ok && !p.Forfeited {
			return r.ID
		}
	}
	return ""
}

// ParseWinnerPolicy resolves a policy name from configuration.
func ParseWinnerPolicy(name string) (WinnerPolicy, error) {
	switch name {
	case "", PolicyRandom:
		return RandomWinner, nil
	case PolicyTopScore:
		return TopScoreWinner, nil
	default:
		return nil, eris.Wrapf(errs.ErrValidationFailed, "unknown timeout winner policy %q", name)
	}
}
