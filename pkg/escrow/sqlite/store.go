// Package sqlite is the default durable escrow.Store, backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/escrow/sqlite/migrations"
)

const matchColumns = `match_id, id, player_a, player_b, player_a_address, player_b_address, stake_wei,
	chain_id, contract_address, status, winner, score_a, score_b, sig_a, sig_b, server_nonce,
	create_tx_hash, join_tx_hash, settle_tx_hash, created_at, started_at, ended_at`

var txHashColumns = map[escrow.TxKind]string{ //nolint:gochecknoglobals // column whitelist
	escrow.TxCreate: "create_tx_hash",
	escrow.TxJoin:   "join_tx_hash",
	escrow.TxSettle: "settle_tx_hash",
}

type Store struct {
	db *sql.DB
}

var _ escrow.Store = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, eris.Wrap(errs.ErrValidationFailed, "sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open sqlite database")
	}
	// Writers are serialized by SQLite anyway; one connection avoids busy errors between them.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "failed to ping sqlite database")
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return eris.Wrap(s.db.Close(), "failed to close sqlite database")
}

func (s *Store) Create(ctx context.Context, m escrow.Match) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escrow_matches (`+matchColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MatchID, m.ID, m.PlayerA, m.PlayerB, m.PlayerAAddress, m.PlayerBAddress, m.StakeWei,
		m.ChainID, m.ContractAddress, string(m.Status), m.Winner, int64(m.ScoreA), int64(m.ScoreB), //nolint:gosec // scores are small
		m.SigA, m.SigB, int64(m.ServerNonce), m.CreateTxHash, m.JoinTxHash, m.SettleTxHash, //nolint:gosec // unix millis
		toMillis(m.CreatedAt), nullableMillis(m.StartedAt), nullableMillis(m.EndedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(escrow.ErrAlreadyExists, "match %s", m.MatchID)
		}
		return eris.Wrap(err, "failed to insert escrow match")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, matchID string) (escrow.Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM escrow_matches WHERE match_id = ?`, matchID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escrow.Match{}, escrow.NotFound(matchID)
	}
	if err != nil {
		return escrow.Match{}, eris.Wrap(err, "failed to read escrow match")
	}
	return m, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, status escrow.Status) ([]escrow.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM escrow_matches WHERE (player_a = ? OR player_b = ?)`
	args := []any{userID, userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, match_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list escrow matches")
	}
	defer rows.Close()

	out := make([]escrow.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan escrow match")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "failed to iterate escrow matches")
}

func (s *Store) Activate(ctx context.Context, matchID string, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusActive,
		`UPDATE escrow_matches SET status = ?, started_at = ? WHERE match_id = ? AND status = ?`,
		string(escrow.StatusActive), toMillis(at), matchID, string(escrow.StatusWaiting))
}

func (s *Store) Cancel(ctx context.Context, matchID string, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusCanceled,
		`UPDATE escrow_matches SET status = ?, ended_at = ? WHERE match_id = ? AND status IN (?, ?)`,
		string(escrow.StatusCanceled), toMillis(at), matchID, string(escrow.StatusWaiting), string(escrow.StatusActive))
}

func (s *Store) Settle(ctx context.Context, matchID string, r escrow.Result, at time.Time) error {
	return s.transition(ctx, matchID, escrow.StatusSettled,
		`UPDATE escrow_matches
		 SET status = ?, ended_at = ?, winner = ?, score_a = ?, score_b = ?, sig_a = ?, sig_b = ?
		 WHERE match_id = ? AND status = ?`,
		string(escrow.StatusSettled), toMillis(at), r.Winner, int64(r.ScoreA), int64(r.ScoreB), //nolint:gosec // scores are small
		r.SigA, r.SigB, matchID, string(escrow.StatusActive))
}

// transition runs a conditional update and, when it matched nothing, reports why.
func (s *Store) transition(ctx context.Context, matchID string, to escrow.Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "failed to move escrow match to %s", to)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eris.Wrap(err, "failed to read affected rows")
	} else if n == 1 {
		return nil
	}
	current, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	return escrow.TransitionError(current, to)
}

func (s *Store) IssueNonce(ctx context.Context, matchID string, nonce uint64) (uint64, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE escrow_matches SET server_nonce = ? WHERE match_id = ? AND server_nonce = 0`,
		int64(nonce), matchID, //nolint:gosec // unix millis
	); err != nil {
		return 0, eris.Wrap(err, "failed to issue nonce")
	}
	var stored int64
	err := s.db.QueryRowContext(ctx, `SELECT server_nonce FROM escrow_matches WHERE match_id = ?`, matchID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, escrow.NotFound(matchID)
	}
	if err != nil {
		return 0, eris.Wrap(err, "failed to read nonce")
	}
	return uint64(stored), nil //nolint:gosec // never negative
}

func (s *Store) SetTxHash(ctx context.Context, matchID string, kind escrow.TxKind, hash string) error {
	column, ok := txHashColumns[kind]
	if !ok {
		return eris.Wrapf(errs.ErrValidationFailed, "unknown transaction kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE escrow_matches SET `+column+` = ? WHERE match_id = ? AND `+column+` = ''`, hash, matchID)
	if err != nil {
		return eris.Wrap(err, "failed to record transaction hash")
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	current, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	_, err = escrow.CheckTxHash(current, kind, hash)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (escrow.Match, error) {
	var (
		m                     escrow.Match
		status                string
		scoreA, scoreB, nonce int64
		createdAt             int64
		startedAt, endedAt    sql.NullInt64
	)
	err := row.Scan(
		&m.MatchID, &m.ID, &m.PlayerA, &m.PlayerB, &m.PlayerAAddress, &m.PlayerBAddress, &m.StakeWei,
		&m.ChainID, &m.ContractAddress, &status, &m.Winner, &scoreA, &scoreB, &m.SigA, &m.SigB, &nonce,
		&m.CreateTxHash, &m.JoinTxHash, &m.SettleTxHash, &createdAt, &startedAt, &endedAt,
	)
	if err != nil {
		return escrow.Match{}, err
	}
	m.Status = escrow.Status(status)
	m.ScoreA = uint64(scoreA)
	m.ScoreB = uint64(scoreB)
	m.ServerNonce = uint64(nonce)
	m.CreatedAt = fromMillis(createdAt)
	if startedAt.Valid {
		ts := fromMillis(startedAt.Int64)
		m.StartedAt = &ts
	}
	if endedAt.Valid {
		ts := fromMillis(endedAt.Int64)
		m.EndedAt = &ts
	}
	return m, nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
