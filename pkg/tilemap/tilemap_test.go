package tilemap

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
)

func TestMap_PixelConversion(t *testing.T) {
	t.Parallel()

	m, err := New("test", 10, 8, 0, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, Position{X: 16, Y: 16}, m.TileToPixel(Tile{X: 0, Y: 0}))
	assert.Equal(t, Position{X: 3*32 + 16, Y: 5*32 + 16}, m.TileToPixel(Tile{X: 3, Y: 5}))
	assert.Equal(t, Tile{X: 3, Y: 5}, m.PixelToTile(m.TileToPixel(Tile{X: 3, Y: 5})))
	assert.Equal(t, Tile{X: 0, Y: 0}, m.PixelToTile(Position{X: 31.9, Y: 0}))
}

func TestMap_IsObstacle(t *testing.T) {
	t.Parallel()

	mask := make([]bool, 4*3)
	mask[1*4+2] = true
	m, err := New("test", 4, 3, 16, 16, mask)
	require.NoError(t, err)

	assert.True(t, m.IsObstacle(Tile{X: 2, Y: 1}))
	assert.False(t, m.IsObstacle(Tile{X: 1, Y: 1}))
	assert.True(t, m.IsObstacle(Tile{X: -1, Y: 0}), "out of bounds is blocked")
	assert.True(t, m.IsObstacle(Tile{X: 4, Y: 0}), "out of bounds is blocked")

	// The mask is copied.
	mask[0] = true
	assert.False(t, m.IsObstacle(Tile{X: 0, Y: 0}))
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New("bad", 0, 5, 32, 32, nil)
	require.ErrorIs(t, err, errs.ErrValidationFailed)

	_, err = New("bad", 2, 2, 32, 32, []bool{true})
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}

func TestParse_ObstacleLayers(t *testing.T) {
	t.Parallel()

	doc := []byte(`{
		"width": 3, "height": 2, "tilewidth": 16, "tileheight": 24,
		"properties": [{"name": "displayName", "value": "Tiny"}],
		"layers": [
			{"name": "Ground", "type": "tilelayer", "data": [1,1,1,1,1,1]},
			{"name": "Walls", "type": "tilelayer", "data": [0,5,0,0,0,0]},
			{"name": "Rocks", "type": "tilelayer", "data": [0,0,0,0,0,7],
			 "properties": [{"name": "collides", "type": "bool", "value": true}]},
			{"name": "Spawns", "type": "objectgroup"}
		]
	}`)

	m, err := Parse("tiny", doc)
	require.NoError(t, err)

	assert.Equal(t, Info{Key: "tiny", Name: "Tiny", Width: 3, Height: 2, TileWidth: 16, TileHeight: 24}, m.Info())
	assert.True(t, m.IsObstacle(Tile{X: 1, Y: 0}))
	assert.True(t, m.IsObstacle(Tile{X: 2, Y: 1}))
	assert.False(t, m.IsObstacle(Tile{X: 0, Y: 0}))
	assert.False(t, m.IsObstacle(Tile{X: 0, Y: 1}))
}

func TestParse_LayerSizeMismatch(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"width": 2, "height": 2, "layers": [{"name": "Obstacles", "data": [1]}]}`)
	_, err := Parse("broken", doc)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}

func TestParse_InvalidDimensions(t *testing.T) {
	t.Parallel()

	docs := map[string]string{
		"negative width":  `{"width": -3, "height": 4, "layers": []}`,
		"negative height": `{"width": 4, "height": -1, "layers": []}`,
		"zero":            `{"width": 0, "height": 0, "layers": []}`,
		"too wide":        `{"width": 5000, "height": 2, "layers": []}`,
		"overflow":        `{"width": 4611686018427387904, "height": 4, "layers": []}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse("bad", []byte(doc))
			require.ErrorIs(t, err, errs.ErrValidationFailed)
		})
	}

	_, err := New("huge", MaxSide+1, 1, 32, 32, nil)
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}

func TestCatalog_Embedded(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(EmbeddedSource{})
	ctx := context.Background()

	for _, key := range []string{"forest", "snow", "desert"} {
		m, err := catalog.Load(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, key, m.Key())
		assert.Equal(t, 32, m.TileWidth())
		// Every embedded map is walled in.
		assert.True(t, m.IsObstacle(Tile{X: 0, Y: 0}))
		assert.True(t, m.IsObstacle(Tile{X: m.Width() - 1, Y: m.Height() - 1}))
		assert.False(t, m.IsObstacle(Tile{X: 2, Y: 2}))
	}

	// Lookups are normalized and cached.
	first, err := catalog.Load(ctx, "  Forest ")
	require.NoError(t, err)
	second, err := catalog.Load(ctx, "forest")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = catalog.Load(ctx, "volcano")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = catalog.Load(ctx, "   ")
	require.ErrorIs(t, err, errs.ErrValidationFailed)

	assert.Equal(t, []string{"desert", "forest", "snow"}, EmbeddedSource{}.Keys())
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "frozen-lake", NormalizeKey("Frozen Lake"))
	assert.Equal(t, "forest", NormalizeKey(" forest "))
}

type fakeObjectGetter struct {
	objects map[string][]byte
	lastKey string
}

func (f *fakeObjectGetter) GetObject(
	_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	f.lastKey = *params.Key
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	t.Parallel()

	forest, err := EmbeddedSource{}.Fetch(context.Background(), "forest")
	require.NoError(t, err)

	getter := &fakeObjectGetter{objects: map[string][]byte{"maps/v2/arena.json": forest}}
	catalog := NewCatalog(NewS3SourceWithClient(getter, "bucket", "/maps/v2/"))

	m, err := catalog.Load(context.Background(), "Arena")
	require.NoError(t, err)
	assert.Equal(t, "arena", m.Key())
	assert.Equal(t, "maps/v2/arena.json", getter.lastKey)

	_, err = catalog.Load(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
