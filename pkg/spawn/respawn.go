package spawn

import (
	"math/rand/v2"

	"github.com/argus-labs/arena/pkg/tilemap"
)

// MaxRespawnAttempts bounds how often the tier chain is re-run when a placement fails its
// double-check.
const MaxRespawnAttempts = 5

// ForcedTile is used once every tier has failed: (1,1), clamped into m.
func ForcedTile(m *tilemap.Map) tilemap.Tile {
	return tilemap.Tile{X: min(1, m.Width()-1), Y: min(1, m.Height()-1)}
}

// Tier identifies which step of the respawn chain produced a placement.
type Tier uint8

const (
	TierStrict Tier = iota + 1
	TierCandidates
	TierScan
	TierScanObstaclesOnly
	TierForced
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierCandidates:
		return "candidates"
	case TierScan:
		return "scan"
	case TierScanObstaclesOnly:
		return "scan_obstacles_only"
	case TierForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Placement is the outcome of a respawn search.
type Placement struct {
	Tile     tilemap.Tile
	Tier     Tier
	Attempts int
}

// Exhausted reports whether every tier failed and the forced tile was used.
func (p Placement) Exhausted() bool {
	return p.Tier == TierForced
}

// tier is one step of the respawn chain. It returns false when it has nothing to offer.
type tier struct {
	kind Tier
	find func(m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand) (tilemap.Tile, bool)
}

var respawnTiers = []tier{ //nolint:gochecknoglobals // fixed chain
	{kind: TierStrict, find: findStrict},
	{kind: TierCandidates, find: findCandidate},
	{kind: TierScan, find: scanSpaced},
	{kind: TierScanObstaclesOnly, find: scanWalkable},
}

// Respawn finds a tile for a player returning to the map while the players on occupied are alive.
// The tiers are tried in order: a strict random search, a fixed list of candidate tiles, a full
// scan honoring spacing, and a full scan honoring obstacles only. A placement that fails its
// double-check triggers another pass, up to MaxRespawnAttempts passes, after which ForcedTile is
// returned.
func Respawn(m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand) Placement {
	return respawnWith(m, occupied, rng, respawnTiers)
}

func respawnWith(m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand, tiers []tier) Placement {
	for attempt := 1; attempt <= MaxRespawnAttempts; attempt++ {
		tile, kind, ok := firstPlacement(m, occupied, rng, tiers)
		if !ok {
			return Placement{Tile: ForcedTile(m), Tier: TierForced, Attempts: attempt}
		}
		if confirm(m, tile, kind, occupied) {
			return Placement{Tile: tile, Tier: kind, Attempts: attempt}
		}
	}
	return Placement{Tile: ForcedTile(m), Tier: TierForced, Attempts: MaxRespawnAttempts}
}

func firstPlacement(
	m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand, tiers []tier,
) (tilemap.Tile, Tier, bool) {
	for _, t := range tiers {
		if tile, ok := t.find(m, occupied, rng); ok {
			return tile, t.kind, true
		}
	}
	return tilemap.Tile{}, 0, false
}

// confirm re-checks a placement against the contract of the tier that produced it.
func confirm(m *tilemap.Map, tile tilemap.Tile, kind Tier, occupied []tilemap.Tile) bool {
	if kind == TierScanObstaclesOnly {
		return !m.IsObstacle(tile)
	}
	return IsPositionValid(m, tile, occupied)
}

func findStrict(m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand) (tilemap.Tile, bool) {
	picks := FindSpawnPositions(m, 1, occupied, true, rng)
	if len(picks) == 0 {
		return tilemap.Tile{}, false
	}
	return picks[0], true
}

// CandidateTiles lists the corners, center and quarter points of m.
func CandidateTiles(m *tilemap.Map) []tilemap.Tile {
	w, h := m.Width(), m.Height()
	return []tilemap.Tile{
		{X: 2, Y: 2},
		{X: w - 3, Y: 2},
		{X: 2, Y: h - 3},
		{X: w - 3, Y: h - 3},
		{X: w / 2, Y: h / 2},
		{X: w / 4, Y: h / 2},
		{X: 3 * w / 4, Y: h / 2},
		{X: w / 2, Y: h / 4},
		{X: w / 2, Y: 3 * h / 4},
	}
}

func findCandidate(m *tilemap.Map, occupied []tilemap.Tile, rng *rand.Rand) (tilemap.Tile, bool) {
	var valid []tilemap.Tile
	for _, c := range CandidateTiles(m) {
		if IsPositionValid(m, c, occupied) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return tilemap.Tile{}, false
	}
	return valid[rng.IntN(len(valid))], true
}

func scanSpaced(m *tilemap.Map, occupied []tilemap.Tile, _ *rand.Rand) (tilemap.Tile, bool) {
	return scan(m, func(t tilemap.Tile) bool { return IsPositionValid(m, t, occupied) })
}

func scanWalkable(m *tilemap.Map, _ []tilemap.Tile, _ *rand.Rand) (tilemap.Tile, bool) {
	return scan(m, func(t tilemap.Tile) bool { return !m.IsObstacle(t) })
}

func scan(m *tilemap.Map, ok func(tilemap.Tile) bool) (tilemap.Tile, bool) {
	for y := 1; y <= m.Height()-2; y++ {
		for x := 1; x <= m.Width()-2; x++ {
			t := tilemap.Tile{X: x, Y: y}
			if ok(t) {
				return t, true
			}
		}
	}
	return tilemap.Tile{}, false
}
