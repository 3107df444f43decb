// Package settlement hands wagered match results to the escrow contract. It owns the escrow
// record lifecycle, issues the canonical EIP-712 message both players sign, and finalizes a match
// only after both signatures recover to the addresses captured at creation.
package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
)

var (
	ErrNotActive     = eris.Wrap(errs.ErrInvalidState, "match not active")
	ErrInvalidWinner = eris.Wrap(errs.ErrValidationFailed, "invalid winner")
)

type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

// WithTxVerifier checks recorded transaction hashes against the chain.
func WithTxVerifier(v TxVerifier) Option {
	return func(c *Coordinator) { c.verifier = v }
}

type Config struct {
	Domain          Domain
	ChainID         int64
	ContractAddress string
}

type Coordinator struct {
	store     escrow.Store
	directory Directory
	cfg       Config

	clock    clockwork.Clock
	log      zerolog.Logger
	tracer   trace.Tracer
	verifier TxVerifier
}

func NewCoordinator(store escrow.Store, directory Directory, cfg Config, opts ...Option) *Coordinator {
	if normalized, err := NormalizeAddress(cfg.ContractAddress); err == nil {
		cfg.ContractAddress = normalized
	}
	c := &Coordinator{
		store:     store,
		directory: directory,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		log:       zerolog.Nop(),
		tracer:    otel.Tracer("arena/settlement"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Created is returned to the match creator.
type Created struct {
	MatchID  string `json:"matchId"`
	PlayerA  string `json:"playerA"`
	PlayerB  string `json:"playerB"`
	StakeWei string `json:"stakeWei"`
}

// Submission is a signed result sent by a client. Only Winner and the scores are taken into the
// signed message; everything else is rebuilt from the record.
type Submission struct {
	MatchID     string `json:"matchId"`
	WinnerID    string `json:"winnerId"`
	ScoreA      uint64 `json:"scoreA"`
	ScoreB      uint64 `json:"scoreB"`
	SigA        string `json:"sigA"`
	SigB        string `json:"sigB"`
	ServerNonce uint64 `json:"serverNonce"`
}

// Settlement is the finalized result. It is derived from the stored record only.
type Settlement struct {
	MatchID      string `json:"matchId"`
	WinnerID     string `json:"winnerId"`
	Winner       string `json:"winner"`
	ScoreA       uint64 `json:"scoreA"`
	ScoreB       uint64 `json:"scoreB"`
	ServerNonce  uint64 `json:"serverNonce"`
	SettleTxHash string `json:"settleTxHash,omitempty"`
}

func settlementOf(m escrow.Match) Settlement {
	winner := m.PlayerAAddress
	if m.Winner == m.PlayerB {
		winner = m.PlayerBAddress
	}
	return Settlement{
		MatchID:      m.MatchID,
		WinnerID:     m.Winner,
		Winner:       winner,
		ScoreA:       m.ScoreA,
		ScoreB:       m.ScoreB,
		ServerNonce:  m.ServerNonce,
		SettleTxHash: m.SettleTxHash,
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name, matchID string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "settlement."+name)
	if matchID != "" {
		span.SetAttributes(attribute.String("arena.match_id", matchID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Coordinator) load(ctx context.Context, matchID string) (escrow.Match, error) {
	id, err := NormalizeMatchID(matchID)
	if err != nil {
		return escrow.Match{}, err
	}
	return c.store.Get(ctx, id)
}

func (c *Coordinator) resolveWallet(ctx context.Context, userID, label string) (string, error) {
	u, err := c.directory.Lookup(ctx, userID)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", label)
	}
	if u.Address == "" {
		return "", eris.Wrapf(errs.ErrValidationFailed, "%s must have a wallet linked", label)
	}
	addr, err := NormalizeAddress(u.Address)
	if err != nil {
		return "", eris.Wrapf(err, "wallet of %s", label)
	}
	return addr, nil
}

// CreateMatch opens a waiting escrow match between playerA, the caller, and playerB.
func (c *Coordinator) CreateMatch(ctx context.Context, playerA, playerB, stakeWei string) (_ Created, err error) {
	ctx, span := c.startSpan(ctx, "CreateMatch", "")
	defer func() { endSpan(span, err) }()

	playerB = strings.TrimSpace(playerB)
	stakeWei = strings.TrimSpace(stakeWei)
	if playerB == "" || stakeWei == "" {
		return Created{}, eris.Wrap(errs.ErrValidationFailed, "playerBId and stakeWei required")
	}
	if playerA == playerB {
		return Created{}, eris.Wrap(errs.ErrValidationFailed, "a player cannot wager against themselves")
	}
	stake, err := uint256.FromDecimal(stakeWei)
	if err != nil {
		return Created{}, eris.Wrapf(errs.ErrValidationFailed, "invalid stake %q: %v", stakeWei, err)
	}
	if stake.IsZero() {
		return Created{}, eris.Wrap(errs.ErrValidationFailed, "stake must be positive")
	}

	addressA, err := c.resolveWallet(ctx, playerA, "player A")
	if err != nil {
		return Created{}, err
	}
	addressB, err := c.resolveWallet(ctx, playerB, "player B")
	if err != nil {
		return Created{}, err
	}
	if !IsValidContractAddress(c.cfg.ContractAddress) {
		return Created{}, eris.Wrap(errs.ErrInvalidState, "escrow contract address not configured")
	}

	now := c.clock.Now().UTC()
	m := escrow.Match{
		ID:              uuid.NewString(),
		MatchID:         GenerateMatchID(playerA, playerB, now),
		PlayerA:         playerA,
		PlayerB:         playerB,
		PlayerAAddress:  addressA,
		PlayerBAddress:  addressB,
		StakeWei:        stake.Dec(),
		ChainID:         c.cfg.ChainID,
		ContractAddress: c.cfg.ContractAddress,
		Status:          escrow.StatusWaiting,
		CreatedAt:       now,
	}
	if err := c.store.Create(ctx, m); err != nil {
		return Created{}, eris.Wrap(err, "failed to create escrow match")
	}
	span.SetAttributes(attribute.String("arena.match_id", m.MatchID))
	c.log.Info().Str("match_id", m.MatchID).Str("player_a", addressA).Str("player_b", addressB).
		Str("stake_wei", m.StakeWei).Msg("Escrow match created")

	return Created{MatchID: m.MatchID, PlayerA: addressA, PlayerB: addressB, StakeWei: m.StakeWei}, nil
}

// JoinMatch activates a waiting match. Only player B may join.
func (c *Coordinator) JoinMatch(ctx context.Context, matchID, playerID string) (err error) {
	ctx, span := c.startSpan(ctx, "JoinMatch", matchID)
	defer func() { endSpan(span, err) }()

	m, err := c.load(ctx, matchID)
	if err != nil {
		return err
	}
	if playerID != m.PlayerB {
		return eris.Wrapf(errs.ErrUnauthorized, "not authorized to join match %s", m.MatchID)
	}
	if m.Status != escrow.StatusWaiting {
		return eris.Wrapf(errs.ErrInvalidState, "match %s is not available to join", m.MatchID)
	}
	if err := c.store.Activate(ctx, m.MatchID, c.clock.Now()); err != nil {
		return err
	}
	c.log.Info().Str("match_id", m.MatchID).Msg("Escrow match active")
	return nil
}

// CancelMatch cancels a waiting or active match on behalf of a participant.
func (c *Coordinator) CancelMatch(ctx context.Context, matchID, playerID string) (err error) {
	ctx, span := c.startSpan(ctx, "CancelMatch", matchID)
	defer func() { endSpan(span, err) }()

	m, err := c.load(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(playerID) {
		return eris.Wrapf(errs.ErrUnauthorized, "not a participant of match %s", m.MatchID)
	}
	if err := c.store.Cancel(ctx, m.MatchID, c.clock.Now()); err != nil {
		return err
	}
	c.log.Info().Str("match_id", m.MatchID).Str("by", playerID).Msg("Escrow match canceled")
	return nil
}

// IssueTypedData returns the message both players sign. The server nonce is issued on the first
// call and reused afterwards.
func (c *Coordinator) IssueTypedData(ctx context.Context, matchID string) (_ apitypes.TypedData, err error) {
	ctx, span := c.startSpan(ctx, "IssueTypedData", matchID)
	defer func() { endSpan(span, err) }()

	m, err := c.load(ctx, matchID)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	if m.Status != escrow.StatusActive {
		return apitypes.TypedData{}, eris.Wrapf(ErrNotActive, "match %s is %s", m.MatchID, m.Status)
	}
	if m.ServerNonce == 0 {
		nonce := uint64(c.clock.Now().UnixMilli()) //nolint:gosec // wall clock is after 1970
		if m.ServerNonce, err = c.store.IssueNonce(ctx, m.MatchID, nonce); err != nil {
			return apitypes.TypedData{}, err
		}
	}

	td, err := buildTypedData(c.cfg.Domain, m, outcome{})
	if err != nil {
		return apitypes.TypedData{}, err
	}
	if digest, err := hashTypedData(td); err == nil {
		c.log.Debug().Str("match_id", m.MatchID).Str("hash", hexutil.Encode(digest)).Msg("Typed data issued")
	}
	return td, nil
}

// SubmitResult verifies both signatures over the reconstructed message and settles the match. A
// match that is already settled returns its stored result.
func (c *Coordinator) SubmitResult(ctx context.Context, sub Submission) (_ Settlement, err error) {
	ctx, span := c.startSpan(ctx, "SubmitResult", sub.MatchID)
	defer func() { endSpan(span, err) }()

	m, err := c.load(ctx, sub.MatchID)
	if err != nil {
		return Settlement{}, err
	}
	if m.Status == escrow.StatusSettled {
		c.log.Info().Str("match_id", m.MatchID).Msg("Match already settled, returning stored result")
		return settlementOf(m), nil
	}
	if m.Status != escrow.StatusActive {
		return Settlement{}, eris.Wrapf(ErrNotActive, "match %s is %s", m.MatchID, m.Status)
	}
	if !m.IsParticipant(sub.WinnerID) {
		return Settlement{}, eris.Wrapf(ErrInvalidWinner, "%q is not a participant of match %s", sub.WinnerID, m.MatchID)
	}
	if m.ServerNonce == 0 || m.ServerNonce != sub.ServerNonce {
		return Settlement{}, eris.Wrapf(errs.ErrNonceMismatch, "match %s: nonce %d was not issued", m.MatchID, sub.ServerNonce)
	}

	winnerAddress := m.PlayerAAddress
	if sub.WinnerID == m.PlayerB {
		winnerAddress = m.PlayerBAddress
	}
	td, err := buildTypedData(c.cfg.Domain, m, outcome{
		winnerAddress: winnerAddress,
		scoreA:        sub.ScoreA,
		scoreB:        sub.ScoreB,
	})
	if err != nil {
		return Settlement{}, err
	}
	digest, err := hashTypedData(td)
	if err != nil {
		return Settlement{}, err
	}
	c.log.Debug().Str("match_id", m.MatchID).Str("hash", hexutil.Encode(digest)).Msg("Verifying match result")

	if err := verifySignature(digest, sub.SigA, m.PlayerAAddress, "player A"); err != nil {
		return Settlement{}, err
	}
	if err := verifySignature(digest, sub.SigB, m.PlayerBAddress, "player B"); err != nil {
		return Settlement{}, err
	}

	result := escrow.Result{
		Winner: sub.WinnerID,
		ScoreA: sub.ScoreA,
		ScoreB: sub.ScoreB,
		SigA:   sub.SigA,
		SigB:   sub.SigB,
	}
	settleErr := c.store.Settle(ctx, m.MatchID, result, c.clock.Now())
	if settleErr != nil && !errors.Is(settleErr, escrow.ErrTransition) {
		return Settlement{}, eris.Wrap(settleErr, "failed to settle match")
	}
	stored, err := c.store.Get(ctx, m.MatchID)
	if err != nil {
		return Settlement{}, err
	}
	if stored.Status != escrow.StatusSettled {
		// Lost a race against a cancel.
		return Settlement{}, eris.Wrapf(ErrNotActive, "match %s is %s", stored.MatchID, stored.Status)
	}
	if settleErr == nil {
		c.log.Info().Str("match_id", stored.MatchID).Str("winner", winnerAddress).Msg("Match settled")
	}
	return settlementOf(stored), nil
}

// RecordTx stores the hash of a create, join or settle transaction sent by a participant.
func (c *Coordinator) RecordTx(ctx context.Context, matchID, playerID string, kind escrow.TxKind, hash string) (err error) {
	ctx, span := c.startSpan(ctx, "RecordTx", matchID)
	defer func() { endSpan(span, err) }()

	if !validTxHash(hash) {
		return eris.Wrapf(errs.ErrValidationFailed, "invalid transaction hash %q", hash)
	}
	hash = strings.ToLower(hash)
	m, err := c.load(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.IsParticipant(playerID) {
		return eris.Wrapf(errs.ErrUnauthorized, "not a participant of match %s", m.MatchID)
	}
	if done, err := escrow.CheckTxHash(m, kind, hash); err != nil || done {
		return err
	}
	if c.verifier != nil {
		if err := c.verifier.VerifyTx(ctx, hash, m.ContractAddress); err != nil {
			return err
		}
	}
	if err := c.store.SetTxHash(ctx, m.MatchID, kind, hash); err != nil {
		return err
	}
	c.log.Info().Str("match_id", m.MatchID).Str("kind", string(kind)).Str("tx", hash).Msg("Transaction recorded")
	return nil
}

func (c *Coordinator) GetMatch(ctx context.Context, matchID string) (_ escrow.Match, err error) {
	ctx, span := c.startSpan(ctx, "GetMatch", matchID)
	defer func() { endSpan(span, err) }()
	return c.load(ctx, matchID)
}

// ListUserMatches returns the matches userID plays in, newest first.
func (c *Coordinator) ListUserMatches(ctx context.Context, userID string, status escrow.Status) (_ []escrow.Match, err error) {
	ctx, span := c.startSpan(ctx, "ListUserMatches", "")
	defer func() { endSpan(span, err) }()
	return c.store.ListByUser(ctx, userID, status)
}
