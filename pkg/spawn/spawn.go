// Package spawn picks safe tiles for placing and respawning players.
//
// A tile is safe when it is inside the map, is not an obstacle and is more than SafeRadius tiles
// (Chebyshev distance) away from every occupied tile. IsPositionValid is the only implementation of
// that rule; initial placement and every respawn tier go through it.
package spawn

import (
	"math/rand/v2"

	"github.com/argus-labs/arena/pkg/tilemap"
)

// SafeRadius is the Chebyshev distance within which a tile counts as crowded.
const SafeRadius = 2

// IsPositionValid reports whether tile is walkable and clear of every occupied tile.
func IsPositionValid(m *tilemap.Map, tile tilemap.Tile, occupied []tilemap.Tile) bool {
	if m.IsObstacle(tile) {
		return false
	}
	for _, o := range occupied {
		if Distance(tile, o) <= SafeRadius {
			return false
		}
	}
	return true
}

// Distance is the Chebyshev distance between two tiles.
func Distance(a, b tilemap.Tile) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

// FindSpawnPositions selects up to count distinct walkable tiles in random order. When strict is
// set or occupied is non-empty every pick keeps SafeRadius from the occupied tiles and from the
// other picks. Otherwise spaced picks are preferred and any remaining slots are filled with
// distinct walkable tiles. Fewer than count tiles are returned only when the map runs out of
// candidates.
func FindSpawnPositions(
	m *tilemap.Map, count int, occupied []tilemap.Tile, strict bool, rng *rand.Rand,
) []tilemap.Tile {
	if count <= 0 {
		return nil
	}

	candidates := walkableTiles(m)
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	picked := make([]tilemap.Tile, 0, count)
	taken := make(map[tilemap.Tile]bool, count)
	exclusions := append([]tilemap.Tile(nil), occupied...)

	for _, c := range candidates {
		if len(picked) == count {
			return picked
		}
		if IsPositionValid(m, c, exclusions) {
			picked = append(picked, c)
			taken[c] = true
			exclusions = append(exclusions, c)
		}
	}

	if strict || len(occupied) > 0 {
		return picked
	}

	for _, c := range candidates {
		if len(picked) == count {
			break
		}
		if !taken[c] {
			picked = append(picked, c)
			taken[c] = true
		}
	}
	return picked
}

// walkableTiles lists the non-obstacle tiles away from the map edge. Maps too small to have an
// interior use every tile.
func walkableTiles(m *tilemap.Map) []tilemap.Tile {
	minX, maxX, minY, maxY := 1, m.Width()-2, 1, m.Height()-2
	if maxX < minX {
		minX, maxX = 0, m.Width()-1
	}
	if maxY < minY {
		minY, maxY = 0, m.Height()-1
	}

	tiles := make([]tilemap.Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			t := tilemap.Tile{X: x, Y: y}
			if !m.IsObstacle(t) {
				tiles = append(tiles, t)
			}
		}
	}
	return tiles
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
