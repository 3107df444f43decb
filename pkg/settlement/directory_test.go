package settlement_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/settlement"
)

func TestHTTPDirectory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users/alice":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"alice","name":"Alice","address":"0x5b38da6a701c568545dcfcb03fcb875f56beddc4"}`))
		case "/users/no-id":
			_, _ = w.Write([]byte(`{"name":"Anonymous"}`))
		case "/users/broken":
			_, _ = w.Write([]byte(`{`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	dir := settlement.NewHTTPDirectory(srv.URL+"/", "secret")

	u, err := dir.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, settlement.User{ID: "alice", Name: "Alice", Address: "0x5b38da6a701c568545dcfcb03fcb875f56beddc4"}, u)

	u, err = dir.Lookup(ctx, "no-id")
	require.NoError(t, err)
	assert.Equal(t, "no-id", u.ID)
	assert.Empty(t, u.Address)

	_, err = dir.Lookup(ctx, "dave")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = dir.Lookup(ctx, "broken")
	require.Error(t, err)

	_, err = settlement.NewHTTPDirectory(srv.URL, "wrong").Lookup(ctx, "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestStaticDirectory(t *testing.T) {
	t.Parallel()

	dir := settlement.StaticDirectory{"alice": {ID: "alice"}}
	u, err := dir.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)

	_, err = dir.Lookup(context.Background(), "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
