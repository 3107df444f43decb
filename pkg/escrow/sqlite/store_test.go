package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/escrow/escrowtest"
	"github.com/argus-labs/arena/pkg/escrow/sqlite"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	return store
}

func TestStore(t *testing.T) {
	t.Parallel()
	escrowtest.Run(t, func(t *testing.T) escrow.Store {
		return openStore(t, filepath.Join(t.TempDir(), "escrow.db"))
	})
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "escrow.db")

	store := openStore(t, path)
	m := escrowtest.NewMatch(1)
	require.NoError(t, store.Create(ctx, m))
	require.NoError(t, store.Activate(ctx, m.MatchID, m.CreatedAt))
	require.NoError(t, store.Close())

	// Migrations are recorded, so reopening keeps the data.
	store = openStore(t, path)
	t.Cleanup(func() { _ = store.Close() })
	got, err := store.Get(ctx, m.MatchID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusActive, got.Status)
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()
	_, err := sqlite.Open(context.Background(), "  ")
	require.ErrorIs(t, err, errs.ErrValidationFailed)
}
