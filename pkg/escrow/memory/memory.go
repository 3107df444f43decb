// Package memory is an in-process escrow.Store. Records do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/escrow"
)

type Store struct {
	mu      sync.RWMutex
	matches map[string]escrow.Match
}

var _ escrow.Store = (*Store)(nil)

func New() *Store {
	return &Store{matches: make(map[string]escrow.Match)}
}

func (s *Store) Create(_ context.Context, m escrow.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.MatchID]; ok {
		return eris.Wrapf(escrow.ErrAlreadyExists, "match %s", m.MatchID)
	}
	s.matches[m.MatchID] = m
	return nil
}

func (s *Store) Get(_ context.Context, matchID string) (escrow.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return escrow.Match{}, escrow.NotFound(matchID)
	}
	return m, nil
}

func (s *Store) ListByUser(_ context.Context, userID string, status escrow.Status) ([]escrow.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]escrow.Match, 0)
	for _, m := range s.matches {
		if !m.IsParticipant(userID) || (status != "" && m.Status != status) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MatchID < out[j].MatchID
	})
	return out, nil
}

func (s *Store) transition(matchID string, to escrow.Status, at time.Time, result *escrow.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return escrow.NotFound(matchID)
	}
	if err := escrow.Apply(&m, to, at, result); err != nil {
		return err
	}
	s.matches[matchID] = m
	return nil
}

func (s *Store) Activate(_ context.Context, matchID string, at time.Time) error {
	return s.transition(matchID, escrow.StatusActive, at, nil)
}

func (s *Store) Cancel(_ context.Context, matchID string, at time.Time) error {
	return s.transition(matchID, escrow.StatusCanceled, at, nil)
}

func (s *Store) Settle(_ context.Context, matchID string, result escrow.Result, at time.Time) error {
	return s.transition(matchID, escrow.StatusSettled, at, &result)
}

func (s *Store) IssueNonce(_ context.Context, matchID string, nonce uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return 0, escrow.NotFound(matchID)
	}
	if m.ServerNonce == 0 {
		m.ServerNonce = nonce
		s.matches[matchID] = m
	}
	return m.ServerNonce, nil
}

func (s *Store) SetTxHash(_ context.Context, matchID string, kind escrow.TxKind, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return escrow.NotFound(matchID)
	}
	done, err := escrow.CheckTxHash(m, kind, hash)
	if err != nil || done {
		return err
	}
	m.SetTxHash(kind, hash)
	s.matches[matchID] = m
	return nil
}

func (s *Store) Close() error { return nil }
