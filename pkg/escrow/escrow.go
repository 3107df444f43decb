// Package escrow defines the durable record of a wagered match and the store contract its backends
// implement. Status only moves forward: waiting to active to settled, or waiting/active to
// canceled. Backends enforce transitions conditionally so concurrent writers cannot regress a
// record.
package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

var (
	ErrAlreadyExists = eris.Wrap(errs.ErrInvalidState, "escrow match already exists")
	ErrTransition    = eris.Wrap(errs.ErrInvalidState, "escrow match status does not allow this change")
	ErrTxHashSet     = eris.Wrap(errs.ErrInvalidState, "transaction hash already recorded")
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusSettled  Status = "settled"
	StatusCanceled Status = "canceled"
)

// ParseStatus accepts a status filter; the empty string means any status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusWaiting, StatusActive, StatusSettled, StatusCanceled:
		return st, nil
	default:
		return "", eris.Wrapf(errs.ErrValidationFailed, "unknown match status %q", s)
	}
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusActive:
		return from == StatusWaiting
	case StatusSettled:
		return from == StatusActive
	case StatusCanceled:
		return from == StatusWaiting || from == StatusActive
	default:
		return false
	}
}

// TxKind names the audit field a transaction hash is recorded in.
type TxKind string

const (
	TxCreate TxKind = "create"
	TxJoin   TxKind = "join"
	TxSettle TxKind = "settle"
)

func ParseTxKind(s string) (TxKind, error) {
	switch k := TxKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TxCreate, TxJoin, TxSettle:
		return k, nil
	default:
		return "", eris.Wrapf(errs.ErrValidationFailed, "unknown transaction kind %q", s)
	}
}

// Match is one wagered match. ServerNonce is zero until issued.
type Match struct {
	ID              string     `json:"id"`
	MatchID         string     `json:"matchId"`
	PlayerA         string     `json:"playerA"`
	PlayerB         string     `json:"playerB"`
	PlayerAAddress  string     `json:"playerAAddress"`
	PlayerBAddress  string     `json:"playerBAddress"`
	StakeWei        string     `json:"stakeWei"`
	ChainID         int64      `json:"chainId"`
	ContractAddress string     `json:"contractAddress"`
	Status          Status     `json:"status"`
	Winner          string     `json:"winner,omitempty"`
	ScoreA          uint64     `json:"scoreA"`
	ScoreB          uint64     `json:"scoreB"`
	SigA            string     `json:"sigA,omitempty"`
	SigB            string     `json:"sigB,omitempty"`
	ServerNonce     uint64     `json:"serverNonce"`
	CreateTxHash    string     `json:"createTxHash,omitempty"`
	JoinTxHash      string     `json:"joinTxHash,omitempty"`
	SettleTxHash    string     `json:"settleTxHash,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// IsParticipant reports whether userID is one of the two players.
func (m Match) IsParticipant(userID string) bool {
	return userID != "" && (userID == m.PlayerA || userID == m.PlayerB)
}

// TxHash returns the recorded hash for kind.
func (m Match) TxHash(kind TxKind) string {
	switch kind {
	case TxCreate:
		return m.CreateTxHash
	case TxJoin:
		return m.JoinTxHash
	case TxSettle:
		return m.SettleTxHash
	default:
		return ""
	}
}

// SetTxHash stores hash in the audit field for kind.
func (m *Match) SetTxHash(kind TxKind, hash string) {
	switch kind {
	case TxCreate:
		m.CreateTxHash = hash
	case TxJoin:
		m.JoinTxHash = hash
	case TxSettle:
		m.SettleTxHash = hash
	}
}

// Result is the verified outcome written when a match settles.
type Result struct {
	Winner string
	ScoreA uint64
	ScoreB uint64
	SigA   string
	SigB   string
}

// Store persists escrow matches. Get returns errs.ErrNotFound for unknown ids; transitions the
// current status does not allow return ErrTransition.
type Store interface {
	Create(ctx context.Context, m Match) error
	Get(ctx context.Context, matchID string) (Match, error)
	// ListByUser returns the matches userID plays in, newest first. An empty status matches all.
	ListByUser(ctx context.Context, userID string, status Status) ([]Match, error)

	Activate(ctx context.Context, matchID string, at time.Time) error
	Cancel(ctx context.Context, matchID string, at time.Time) error
	Settle(ctx context.Context, matchID string, result Result, at time.Time) error

	// IssueNonce stores nonce if none is set and returns the stored nonce either way.
	IssueNonce(ctx context.Context, matchID string, nonce uint64) (uint64, error)
	// SetTxHash records hash once. Recording the same hash again is a no-op.
	SetTxHash(ctx context.Context, matchID string, kind TxKind, hash string) error

	Close() error
}

// NotFound builds the error returned for an unknown match id.
func NotFound(matchID string) error {
	return eris.Wrapf(errs.ErrNotFound, "escrow match %s", matchID)
}

// TransitionError builds the error returned when m cannot move to status to.
func TransitionError(m Match, to Status) error {
	return eris.Wrapf(ErrTransition, "match %s is %s, cannot become %s", m.MatchID, m.Status, to)
}

// CheckTxHash decides whether hash may be recorded for kind on m. It returns done when the same
// hash is already recorded.
func CheckTxHash(m Match, kind TxKind, hash string) (done bool, err error) {
	switch current := m.TxHash(kind); current {
	case "":
		return false, nil
	case hash:
		return true, nil
	default:
		return false, eris.Wrapf(ErrTxHashSet, "%s transaction of match %s is %s", kind, m.MatchID, current)
	}
}

// Apply performs the in-memory side of a transition on m. Backends that load, check and write
// back a record share it.
func Apply(m *Match, to Status, at time.Time, result *Result) error {
	if !CanTransition(m.Status, to) {
		return TransitionError(*m, to)
	}
	m.Status = to
	ts := at.UTC()
	switch to {
	case StatusActive:
		m.StartedAt = &ts
	case StatusSettled:
		m.EndedAt = &ts
		if result != nil {
			m.Winner = result.Winner
			m.ScoreA = result.ScoreA
			m.ScoreB = result.ScoreB
			m.SigA = result.SigA
			m.SigB = result.SigB
		}
	case StatusCanceled:
		m.EndedAt = &ts
	}
	return nil
}
