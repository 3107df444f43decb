package match

import "github.com/argus-labs/arena/pkg/tilemap"

type MovedPayload struct {
	PlayerID  string  `json:"playerId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
}

type HealthPayload struct {
	PlayerID   string `json:"playerId"`
	Health     int    `json:"health"`
	AttackerID string `json:"attackerId,omitempty"`
}

type DefeatedPayload struct {
	PlayerID      string `json:"playerId"`
	PlayerName    string `json:"playerName"`
	AttackerID    string `json:"attackerId,omitempty"`
	AttackerName  string `json:"attackerName,omitempty"`
	AttackerStats *Stats `json:"attackerStats,omitempty"`
}

type RespawnedPayload struct {
	PlayerID  string           `json:"playerId"`
	Position  tilemap.Position `json:"position"`
	Health    int              `json:"health"`
	Direction string           `json:"direction"`
	Stats     Stats            `json:"stats"`
}

type DisconnectedPayload struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason"`
}

type TimerPayload struct {
	TimeLeft int `json:"timeLeft"`
}

type EndedPayload struct {
	Winner     string    `json:"winner,omitempty"`
	WinnerName string    `json:"winnerName,omitempty"`
	Reason     EndReason `json:"reason"`
	Rankings   []Ranking `json:"finalRankings"`
	FinalState View      `json:"finalState"`
}
