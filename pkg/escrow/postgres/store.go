// Package postgres is an escrow.Store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
)

type matchRow struct {
	MatchID         string `gorm:"primaryKey;size:66"`
	ID              string `gorm:"uniqueIndex;size:36;not null"`
	PlayerA         string `gorm:"index:idx_escrow_player_a;not null"`
	PlayerB         string `gorm:"index:idx_escrow_player_b;not null"`
	PlayerAAddress  string `gorm:"size:42;not null"`
	PlayerBAddress  string `gorm:"size:42;not null"`
	StakeWei        string `gorm:"not null"`
	ChainID         int64  `gorm:"not null"`
	ContractAddress string `gorm:"size:42;not null"`
	Status          string `gorm:"size:16;index;not null"`
	Winner          string
	ScoreA          uint64
	ScoreB          uint64
	SigA            string
	SigB            string
	ServerNonce     uint64
	CreateTxHash    string
	JoinTxHash      string
	SettleTxHash    string
	CreatedAt       time.Time `gorm:"not null"`
	StartedAt       *time.Time
	EndedAt         *time.Time
}

func (matchRow) TableName() string { return "escrow_matches" }

func fromMatch(m escrow.Match) matchRow {
	return matchRow{
		MatchID:         m.MatchID,
		ID:              m.ID,
		PlayerA:         m.PlayerA,
		PlayerB:         m.PlayerB,
		PlayerAAddress:  m.PlayerAAddress,
		PlayerBAddress:  m.PlayerBAddress,
		StakeWei:        m.StakeWei,
		ChainID:         m.ChainID,
		ContractAddress: m.ContractAddress,
		Status:          string(m.Status),
		Winner:          m.Winner,
		ScoreA:          m.ScoreA,
		ScoreB:          m.ScoreB,
		SigA:            m.SigA,
		SigB:            m.SigB,
		ServerNonce:     m.ServerNonce,
		CreateTxHash:    m.CreateTxHash,
		JoinTxHash:      m.JoinTxHash,
		SettleTxHash:    m.SettleTxHash,
		CreatedAt:       m.CreatedAt.UTC(),
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
	}
}

func (r matchRow) toMatch() escrow.Match {
	m := escrow.Match{
		ID:              r.ID,
		MatchID:         r.MatchID,
		PlayerA:         r.PlayerA,
		PlayerB:         r.PlayerB,
		PlayerAAddress:  r.PlayerAAddress,
		PlayerBAddress:  r.PlayerBAddress,
		StakeWei:        r.StakeWei,
		ChainID:         r.ChainID,
		ContractAddress: r.ContractAddress,
		Status:          escrow.Status(r.Status),
		Winner:          r.Winner,
		ScoreA:          r.ScoreA,
		ScoreB:          r.ScoreB,
		SigA:            r.SigA,
		SigB:            r.SigB,
		ServerNonce:     r.ServerNonce,
		CreateTxHash:    r.CreateTxHash,
		JoinTxHash:      r.JoinTxHash,
		SettleTxHash:    r.SettleTxHash,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.StartedAt != nil {
		ts := r.StartedAt.UTC()
		m.StartedAt = &ts
	}
	if r.EndedAt != nil {
		ts := r.EndedAt.UTC()
		m.EndedAt = &ts
	}
	return m
}

var txHashColumns = map[escrow.TxKind]string{ //nolint:gochecknoglobals // column whitelist
	escrow.TxCreate: "create_tx_hash",
	escrow.TxJoin:   "join_tx_hash",
	escrow.TxSettle: "settle_tx_hash",
}

type Store struct {
	db *gorm.DB
}

var _ escrow.Store = (*Store)(nil)

// Open connects to dsn and migrates the escrow table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, eris.Wrap(errs.ErrValidationFailed, "postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to postgres")
	}
	return NewWithDB(ctx, db)
}

// NewWithDB uses an existing gorm handle and migrates the escrow table.
func NewWithDB(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&matchRow{}); err != nil {
		return nil, eris.Wrap(err, "failed to migrate escrow table")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return eris.Wrap(err, "failed to get postgres handle")
	}
	return eris.Wrap(sqlDB.Close(), "failed to close postgres")
}

func (s *Store) Create(ctx context.Context, m escrow.Match) error {
	row := fromMatch(m)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return eris.Wrapf(escrow.ErrAlreadyExists, "match %s", m.MatchID)
		}
		return eris.Wrap(err, "failed to insert escrow match")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, matchID string) (escrow.Match, error) {
	var row matchRow
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrow.Match{}, escrow.NotFound(matchID)
	}
	if err != nil {
		return escrow.Match{}, eris.Wrap(err, "failed to read escrow match")
	}
	return row.toMatch(), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, status escrow.Status) ([]escrow.Match, error) {
	query := s.db.WithContext(ctx).Where("player_a = ? OR player_b = ?", userID, userID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var rows []matchRow
	if err := query.Order("created_at DESC").Order("match_id ASC").Find(&rows).Error; err != nil {
		return nil, eris.Wrap(err, "failed to list escrow matches")
	}
	out := make([]escrow.Match, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMatch())
	}
	return out, nil
}

func (s *Store) Activate(ctx context.Context, matchID string, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusActive, []escrow.Status{escrow.StatusWaiting},
		map[string]any{"started_at": at.UTC()})
}

func (s *Store) Cancel(ctx context.Context, matchID string, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusCanceled,
		[]escrow.Status{escrow.StatusWaiting, escrow.StatusActive},
		map[string]any{"ended_at": at.UTC()})
}

func (s *Store) Settle(ctx context.Context, matchID string, r escrow.Result, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusSettled, []escrow.Status{escrow.StatusActive},
		map[string]any{
			"ended_at": at.UTC(),
			"winner":   r.Winner,
			"score_a":  r.ScoreA,
			"score_b":  r.ScoreB,
			"sig_a":    r.SigA,
			"sig_b":    r.SigB,
		})
}

func (s *Store) transition(
	ctx context.Context, matchID string, to escrow.Status, from []escrow.Status, fields map[string]any,
) error {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	fields["status"] = string(to)
	res := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("match_id = ? AND status IN ?", matchID, allowed).
		Updates(fields)
	if res.Error != nil {
		return eris.Wrapf(res.Error, "failed to move escrow match to %s", to)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	return escrow.TransitionError(current, to)
}

func (s *Store) IssueNonce(ctx context.Context, matchID string, nonce uint64) (uint64, error) {
	err := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("match_id = ? AND server_nonce = 0", matchID).
		Update("server_nonce", nonce).Error
	if err != nil {
		return 0, eris.Wrap(err, "failed to issue nonce")
	}
	m, err := s.Get(ctx, matchID)
	if err != nil {
		return 0, err
	}
	return m.ServerNonce, nil
}

func (s *Store) SetTxHash(ctx context.Context, matchID string, kind escrow.TxKind, hash string) error {
	column, ok := txHashColumns[kind]
	if !ok {
		return eris.Wrapf(errs.ErrValidationFailed, "unknown transaction kind %q", kind)
	}
	res := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("match_id = ? AND "+column+" = ''", matchID).
		Update(column, hash)
	if res.Error != nil {
		return eris.Wrap(res.Error, "failed to record transaction hash")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	_, err = escrow.CheckTxHash(current, kind, hash)
	return err
}
