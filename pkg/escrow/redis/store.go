// Package redis is an escrow.Store shared between server replicas. Records are JSON values; each
// user has a sorted set of their match ids scored by creation time. Transitions use WATCH/MULTI
// so a concurrent writer forces a re-read instead of being overwritten.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/escrow"
)

const (
	DefaultNamespace = "arena"

	maxTxRetries = 16
)

type Options = redis.Options

type Store struct {
	client    *redis.Client
	namespace string
}

var _ escrow.Store = (*Store)(nil)

func New(options Options, namespace string) *Store {
	return NewWithClient(redis.NewClient(&options), namespace)
}

func NewWithClient(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, namespace: namespace}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "failed to reach redis")
}

func (s *Store) Close() error {
	return eris.Wrap(s.client.Close(), "failed to close redis client")
}

func (s *Store) matchKey(matchID string) string {
	return s.namespace + ":escrow:match:" + matchID
}

func (s *Store) userKey(userID string) string {
	return s.namespace + ":escrow:user:" + userID
}

func (s *Store) Create(ctx context.Context, m escrow.Match) error {
	bz, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "failed to encode escrow match")
	}
	created, err := s.client.SetNX(ctx, s.matchKey(m.MatchID), bz, 0).Result()
	if err != nil {
		return eris.Wrap(err, "failed to store escrow match")
	}
	if !created {
		return eris.Wrapf(escrow.ErrAlreadyExists, "match %s", m.MatchID)
	}
	score := float64(m.CreatedAt.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.userKey(m.PlayerA), redis.Z{Score: score, Member: m.MatchID})
		p.ZAdd(ctx, s.userKey(m.PlayerB), redis.Z{Score: score, Member: m.MatchID})
		return nil
	})
	return eris.Wrap(err, "failed to index escrow match")
}

func (s *Store) Get(ctx context.Context, matchID string) (escrow.Match, error) {
	bz, err := s.client.Get(ctx, s.matchKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return escrow.Match{}, escrow.NotFound(matchID)
	}
	if err != nil {
		return escrow.Match{}, eris.Wrap(err, "failed to read escrow match")
	}
	return decode(bz)
}

func (s *Store) ListByUser(ctx context.Context, userID string, status escrow.Status) ([]escrow.Match, error) {
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read user match index")
	}
	out := make([]escrow.Match, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.matchKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read escrow matches")
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		m, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) Activate(ctx context.Context, matchID string, at time.Time) error {
	return s.update(ctx, matchID, func(m *escrow.Match) (bool, error) {
		return true, escrow.Apply(m, escrow.StatusActive, at, nil)
	})
}

func (s *Store) Cancel(ctx context.Context, matchID string, at time.Time) error {
	return s.update(ctx, matchID, func(m *escrow.Match) (bool, error) {
		return true, escrow.Apply(m, escrow.StatusCanceled, at, nil)
	})
}

func (s *Store) Settle(ctx context.Context, matchID string, result escrow.Result, at time.Time) error {
	return s.update(ctx, matchID, func(m *escrow.Match) (bool, error) {
		return true, escrow.Apply(m, escrow.StatusSettled, at, &result)
	})
}

func (s *Store) IssueNonce(ctx context.Context, matchID string, nonce uint64) (uint64, error) {
	var stored uint64
	err := s.update(ctx, matchID, func(m *escrow.Match) (bool, error) {
		if m.ServerNonce != 0 {
			stored = m.ServerNonce
			return false, nil
		}
		m.ServerNonce = nonce
		stored = nonce
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func (s *Store) SetTxHash(ctx context.Context, matchID string, kind escrow.TxKind, hash string) error {
	return s.update(ctx, matchID, func(m *escrow.Match) (bool, error) {
		done, err := escrow.CheckTxHash(*m, kind, hash)
		if err != nil || done {
			return false, err
		}
		m.SetTxHash(kind, hash)
		return true, nil
	})
}

// update applies fn to the stored record under WATCH and writes it back if fn changed it. A
// write that loses the race is retried against the new value.
func (s *Store) update(ctx context.Context, matchID string, fn func(*escrow.Match) (bool, error)) error {
	key := s.matchKey(matchID)
	txf := func(tx *redis.Tx) error {
		bz, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return escrow.NotFound(matchID)
		}
		if err != nil {
			return eris.Wrap(err, "failed to read escrow match")
		}
		m, err := decode(bz)
		if err != nil {
			return err
		}
		changed, err := fn(&m)
		if err != nil || !changed {
			return err
		}
		out, err := json.Marshal(m)
		if err != nil {
			return eris.Wrap(err, "failed to encode escrow match")
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return eris.Errorf("escrow match %s is too contended, gave up after %d attempts", matchID, maxTxRetries)
}

func decode(bz []byte) (escrow.Match, error) {
	var m escrow.Match
	if err := json.Unmarshal(bz, &m); err != nil {
		return escrow.Match{}, eris.Wrap(err, "failed to decode escrow match")
	}
	return m, nil
}
