// Package escrowtest holds the behaviour every escrow.Store backend must share.
package escrowtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
)

// Opener returns an empty store. The suite closes it.
type Opener func(t *testing.T) escrow.Store

var baseTime = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // test fixture

// NewMatch builds a waiting match between alice and bob.
func NewMatch(n int) escrow.Match {
	return escrow.Match{
		ID:              fmt.Sprintf("00000000-0000-4000-8000-%012d", n),
		MatchID:         fmt.Sprintf("0x%064x", n),
		PlayerA:         "alice",
		PlayerB:         "bob",
		PlayerAAddress:  "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4",
		PlayerBAddress:  "0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2",
		StakeWei:        "50000000000000000",
		ChainID:         84532,
		ContractAddress: "0xd9145CCE52D386f254917e481eB44e9943F39138",
		Status:          escrow.StatusWaiting,
		CreatedAt:       baseTime.Add(time.Duration(n) * time.Minute),
	}
}

// normalize strips location data so records read back from a database compare equal.
func normalize(m escrow.Match) escrow.Match {
	m.CreatedAt = m.CreatedAt.UTC()
	if m.StartedAt != nil {
		ts := m.StartedAt.UTC()
		m.StartedAt = &ts
	}
	if m.EndedAt != nil {
		ts := m.EndedAt.UTC()
		m.EndedAt = &ts
	}
	return m
}

func open(t *testing.T, opener Opener) escrow.Store {
	t.Helper()
	store := opener(t)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

// Run exercises a backend against the shared contract.
func Run(t *testing.T, opener Opener) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(1)
		require.NoError(t, store.Create(ctx, m))

		got, err := store.Get(ctx, m.MatchID)
		require.NoError(t, err)
		assert.Equal(t, m, normalize(got))

		err = store.Create(ctx, m)
		require.ErrorIs(t, err, escrow.ErrAlreadyExists)
		require.ErrorIs(t, err, errs.ErrInvalidState)

		_, err = store.Get(ctx, NewMatch(99).MatchID)
		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("forward transitions", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(2)
		require.NoError(t, store.Create(ctx, m))

		require.ErrorIs(t, store.Settle(ctx, m.MatchID, escrow.Result{Winner: "alice"}, baseTime), escrow.ErrTransition)

		startedAt := baseTime.Add(time.Hour)
		require.NoError(t, store.Activate(ctx, m.MatchID, startedAt))
		require.ErrorIs(t, store.Activate(ctx, m.MatchID, startedAt), escrow.ErrTransition)

		result := escrow.Result{Winner: "bob", ScoreA: 15, ScoreB: 40, SigA: "0xaa", SigB: "0xbb"}
		endedAt := startedAt.Add(5 * time.Minute)
		require.NoError(t, store.Settle(ctx, m.MatchID, result, endedAt))

		got, err := store.Get(ctx, m.MatchID)
		require.NoError(t, err)
		got = normalize(got)
		assert.Equal(t, escrow.StatusSettled, got.Status)
		assert.Equal(t, "bob", got.Winner)
		assert.Equal(t, uint64(15), got.ScoreA)
		assert.Equal(t, uint64(40), got.ScoreB)
		assert.Equal(t, "0xaa", got.SigA)
		assert.Equal(t, "0xbb", got.SigB)
		require.NotNil(t, got.StartedAt)
		assert.Equal(t, startedAt, *got.StartedAt)
		require.NotNil(t, got.EndedAt)
		assert.Equal(t, endedAt, *got.EndedAt)

		require.ErrorIs(t, store.Settle(ctx, m.MatchID, result, endedAt), escrow.ErrTransition)
		require.ErrorIs(t, store.Cancel(ctx, m.MatchID, endedAt), escrow.ErrTransition)
		require.ErrorIs(t, store.Activate(ctx, m.MatchID, endedAt), escrow.ErrTransition)
	})

	t.Run("cancel", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		waiting, active := NewMatch(3), NewMatch(4)
		require.NoError(t, store.Create(ctx, waiting))
		require.NoError(t, store.Create(ctx, active))
		require.NoError(t, store.Activate(ctx, active.MatchID, baseTime))

		require.NoError(t, store.Cancel(ctx, waiting.MatchID, baseTime))
		require.NoError(t, store.Cancel(ctx, active.MatchID, baseTime))

		for _, id := range []string{waiting.MatchID, active.MatchID} {
			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, escrow.StatusCanceled, got.Status)
			assert.NotNil(t, got.EndedAt)
		}
		require.ErrorIs(t, store.Activate(ctx, waiting.MatchID, baseTime), escrow.ErrTransition)
		require.ErrorIs(t, store.Cancel(ctx, waiting.MatchID, baseTime), escrow.ErrTransition)
	})

	t.Run("unknown match", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		id := NewMatch(98).MatchID

		require.ErrorIs(t, store.Activate(ctx, id, baseTime), errs.ErrNotFound)
		require.ErrorIs(t, store.Cancel(ctx, id, baseTime), errs.ErrNotFound)
		require.ErrorIs(t, store.Settle(ctx, id, escrow.Result{}, baseTime), errs.ErrNotFound)
		_, err := store.IssueNonce(ctx, id, 1)
		require.ErrorIs(t, err, errs.ErrNotFound)
		require.ErrorIs(t, store.SetTxHash(ctx, id, escrow.TxCreate, "0x01"), errs.ErrNotFound)
	})

	t.Run("nonce is issued once", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(5)
		require.NoError(t, store.Create(ctx, m))

		nonce, err := store.IssueNonce(ctx, m.MatchID, 1717264800000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1717264800000), nonce)

		nonce, err = store.IssueNonce(ctx, m.MatchID, 1717264899999)
		require.NoError(t, err)
		assert.Equal(t, uint64(1717264800000), nonce)

		got, err := store.Get(ctx, m.MatchID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1717264800000), got.ServerNonce)
	})

	t.Run("concurrent nonce issue agrees", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(6)
		require.NoError(t, store.Create(ctx, m))

		const workers = 8
		nonces := make([]uint64, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := store.IssueNonce(ctx, m.MatchID, uint64(1000+i))
				assert.NoError(t, err)
				nonces[i] = n
			}()
		}
		wg.Wait()
		for _, n := range nonces {
			assert.Equal(t, nonces[0], n)
		}
	})

	t.Run("concurrent settle succeeds once", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(7)
		require.NoError(t, store.Create(ctx, m))
		require.NoError(t, store.Activate(ctx, m.MatchID, baseTime))

		const workers = 8
		results := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = store.Settle(ctx, m.MatchID, escrow.Result{Winner: "alice", ScoreA: uint64(i)}, baseTime)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, escrow.ErrTransition)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("tx hashes are write once", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)
		m := NewMatch(8)
		require.NoError(t, store.Create(ctx, m))

		hash := "0x" + fmt.Sprintf("%064x", 0xabc)
		require.NoError(t, store.SetTxHash(ctx, m.MatchID, escrow.TxCreate, hash))
		require.NoError(t, store.SetTxHash(ctx, m.MatchID, escrow.TxCreate, hash))
		require.ErrorIs(t, store.SetTxHash(ctx, m.MatchID, escrow.TxCreate, "0xother"), escrow.ErrTxHashSet)
		require.NoError(t, store.SetTxHash(ctx, m.MatchID, escrow.TxJoin, "0xjoin"))

		got, err := store.Get(ctx, m.MatchID)
		require.NoError(t, err)
		assert.Equal(t, hash, got.CreateTxHash)
		assert.Equal(t, "0xjoin", got.JoinTxHash)
		assert.Empty(t, got.SettleTxHash)
	})

	t.Run("list by user", func(t *testing.T) {
		ctx := context.Background()
		store := open(t, opener)

		older, newer, other := NewMatch(10), NewMatch(11), NewMatch(12)
		other.PlayerA, other.PlayerB = "carol", "dave"
		for _, m := range []escrow.Match{older, newer, other} {
			require.NoError(t, store.Create(ctx, m))
		}
		require.NoError(t, store.Activate(ctx, older.MatchID, baseTime))

		all, err := store.ListByUser(ctx, "bob", "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, newer.MatchID, all[0].MatchID, "newest first")
		assert.Equal(t, older.MatchID, all[1].MatchID)

		active, err := store.ListByUser(ctx, "alice", escrow.StatusActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, older.MatchID, active[0].MatchID)

		none, err := store.ListByUser(ctx, "erin", "")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
