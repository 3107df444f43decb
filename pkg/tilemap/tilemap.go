// Package tilemap models the tile grids matches are played on and resolves map keys to map data.
package tilemap

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

// DefaultTileSize is used when a map does not declare its tile dimensions.
const DefaultTileSize = 32

// MaxSide bounds the width and height of a map in tiles.
const MaxSide = 4096

// Tile is a cell coordinate on the grid.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Position is a point in pixel space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Info is the part of a map sent to clients.
type Info struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TileWidth  int    `json:"tileWidth"`
	TileHeight int    `json:"tileHeight"`
}

// Map is an immutable tile grid with an obstacle mask.
type Map struct {
	key        string
	name       string
	width      int
	height     int
	tileWidth  int
	tileHeight int
	obstacles  []bool
}

// New builds a map from a row-major obstacle mask. A nil mask means no obstacles. Tile sizes of
// zero fall back to DefaultTileSize.
func New(key string, width, height, tileWidth, tileHeight int, obstacles []bool) (*Map, error) {
	if err := checkDimensions(key, width, height); err != nil {
		return nil, err
	}
	if obstacles == nil {
		obstacles = make([]bool, width*height)
	}
	if len(obstacles) != width*height {
		return nil, eris.Wrapf(errs.ErrValidationFailed,
			"map %q obstacle mask has %d cells, want %d", key, len(obstacles), width*height)
	}
	if tileWidth <= 0 {
		tileWidth = DefaultTileSize
	}
	if tileHeight <= 0 {
		tileHeight = DefaultTileSize
	}
	mask := make([]bool, len(obstacles))
	copy(mask, obstacles)
	return &Map{
		key:        key,
		name:       key,
		width:      width,
		height:     height,
		tileWidth:  tileWidth,
		tileHeight: tileHeight,
		obstacles:  mask,
	}, nil
}

func (m *Map) Key() string     { return m.key }
func (m *Map) Width() int      { return m.width }
func (m *Map) Height() int     { return m.height }
func (m *Map) TileWidth() int  { return m.tileWidth }
func (m *Map) TileHeight() int { return m.tileHeight }

func (m *Map) Info() Info {
	return Info{
		Key:        m.key,
		Name:       m.name,
		Width:      m.width,
		Height:     m.height,
		TileWidth:  m.tileWidth,
		TileHeight: m.tileHeight,
	}
}

// InBounds reports whether t lies inside the grid.
func (m *Map) InBounds(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < m.width && t.Y < m.height
}

// IsObstacle reports whether t blocks movement. Tiles outside the grid are obstacles.
func (m *Map) IsObstacle(t Tile) bool {
	if !m.InBounds(t) {
		return true
	}
	return m.obstacles[t.Y*m.width+t.X]
}

// TileToPixel returns the pixel center of t.
func (m *Map) TileToPixel(t Tile) Position {
	return Position{
		X: float64(t.X*m.tileWidth + m.tileWidth/2),
		Y: float64(t.Y*m.tileHeight + m.tileHeight/2),
	}
}

// PixelToTile returns the tile containing p.
func (m *Map) PixelToTile(p Position) Tile {
	return Tile{
		X: int(math.Floor(p.X / float64(m.tileWidth))),
		Y: int(math.Floor(p.Y / float64(m.tileHeight))),
	}
}

// -----------------------------------------------------------------------------
// Tiled JSON
// -----------------------------------------------------------------------------

type tiledMap struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	TileWidth  int             `json:"tilewidth"`
	TileHeight int             `json:"tileheight"`
	Properties []tiledProperty `json:"properties"`
	Layers     []tiledLayer    `json:"layers"`
}

type tiledLayer struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Data       []int           `json:"data"`
	Properties []tiledProperty `json:"properties"`
}

type tiledProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Parse decodes a map exported from the Tiled editor in JSON format. Non-zero cells of any tile
// layer named like "obstacles", "collision" or "walls", or carrying a boolean "collides"
// property, are obstacles.
func Parse(key string, data []byte) (*Map, error) {
	var raw tiledMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(errs.ErrValidationFailed, "map %q is not valid JSON: %v", key, err)
	}

	if err := checkDimensions(key, raw.Width, raw.Height); err != nil {
		return nil, err
	}
	cells := raw.Width * raw.Height
	mask := make([]bool, cells)
	for _, layer := range raw.Layers {
		if layer.Type != "" && layer.Type != "tilelayer" {
			continue
		}
		if !isObstacleLayer(layer) {
			continue
		}
		if len(layer.Data) != cells {
			return nil, eris.Wrapf(errs.ErrValidationFailed,
				"map %q layer %q has %d cells, want %d", key, layer.Name, len(layer.Data), cells)
		}
		for i, gid := range layer.Data {
			if gid != 0 {
				mask[i] = true
			}
		}
	}

	m, err := New(key, raw.Width, raw.Height, raw.TileWidth, raw.TileHeight, mask)
	if err != nil {
		return nil, err
	}
	for _, p := range raw.Properties {
		if p.Name == "displayName" {
			m.name = fmt.Sprint(p.Value)
		}
	}
	return m, nil
}

func isObstacleLayer(layer tiledLayer) bool {
	for _, p := range layer.Properties {
		if p.Name == "collides" {
			if b, ok := p.Value.(bool); ok {
				return b
			}
		}
	}
	name := strings.ToLower(layer.Name)
	for _, marker := range []string{"obstacle", "collision", "wall"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func checkDimensions(key string, width, height int) error {
	if width <= 0 || height <= 0 || width > MaxSide || height > MaxSide {
		return eris.Wrapf(errs.ErrValidationFailed, "map %q has invalid dimensions %dx%d", key, width, height)
	}
	return nil
}
