package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/radieske/price-duel/internal/wager"
)

// SQLite implementa o Store para um único nó (modernc.org/sqlite, sem cgo).
// O pool tem uma conexão só: as transações ficam serializadas e não há
// necessidade de FOR UPDATE. Datas são gravadas como unix nanos.
type SQLite struct{ db *sql.DB }

// OpenSQLite abre (ou cria) o arquivo; ":memory:" serve para testes
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bet_master (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	last_bet_id INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS bets (
	id         INTEGER PRIMARY KEY,
	bet_key    TEXT    NOT NULL UNIQUE,
	amount     INTEGER NOT NULL CHECK (amount > 0),
	player_a   TEXT    NOT NULL,
	price_a    REAL    NOT NULL,
	player_b   TEXT,
	price_b    REAL,
	state      TEXT    NOT NULL,
	oracle_key TEXT    NOT NULL,
	expiry_ts  INTEGER NOT NULL,
	escrow     INTEGER NOT NULL CHECK (escrow >= 0),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bets_state_expiry_idx ON bets (state, expiry_ts);
CREATE TABLE IF NOT EXISTS wallets (
	player  TEXT    PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS wallet_ledger (
	id             TEXT    PRIMARY KEY,
	seq            INTEGER NOT NULL,
	player         TEXT    NOT NULL,
	operation_type TEXT    NOT NULL,
	amount         INTEGER NOT NULL,
	bet_id         INTEGER,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS wallet_ledger_player_idx ON wallet_ledger (player, seq);
`

func (s *SQLite) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLite) InitMaster(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bet_master (id, last_bet_id) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("init master: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wager.ErrMasterExists
	}
	return nil
}

func (s *SQLite) LastBetID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_bet_id FROM bet_master WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wager.ErrMasterNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (s *SQLite) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanSQLiteBet(row rowScanner) (*wager.Bet, error) {
	var (
		b                  wager.Bet
		id, amount, escrow int64
		created, updated   int64
		state              string
		playerB            sql.NullString
		priceB             sql.NullFloat64
	)
	if err := row.Scan(&id, &amount, &b.PredictionA.Player, &b.PredictionA.Price,
		&playerB, &priceB, &state, &b.OracleKey, &b.ExpiryTS, &escrow, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wager.ErrBetNotFound
		}
		return nil, err
	}
	st, err := wager.ParseState(state)
	if err != nil {
		return nil, err
	}
	b.ID = uint64(id)
	b.Amount = uint64(amount)
	b.Escrow = uint64(escrow)
	b.State = st
	b.CreatedAt = time.Unix(0, created).UTC()
	b.UpdatedAt = time.Unix(0, updated).UTC()
	if playerB.Valid {
		b.PredictionB = &wager.Prediction{Player: playerB.String, Price: priceB.Float64}
	}
	return &b, nil
}

func (s *SQLite) GetBet(ctx context.Context, id uint64) (*wager.Bet, error) {
	return scanSQLiteBet(s.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id = ?`, int64(id)))
}

func (s *SQLite) ListBets(ctx context.Context) ([]*wager.Bet, error) {
	return s.queryBets(ctx, `SELECT `+betColumns+` FROM bets ORDER BY id`)
}

func (s *SQLite) ListClaimable(ctx context.Context, now time.Time) ([]*wager.Bet, error) {
	ts := now.Unix()
	return s.queryBets(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE state = ? AND expiry_ts <= ? AND expiry_ts + ? >= ?
		ORDER BY expiry_ts, id`,
		string(wager.StateStarted), ts, wager.MaxClaimablePeriod, ts)
}

func (s *SQLite) queryBets(ctx context.Context, q string, args ...any) ([]*wager.Bet, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*wager.Bet{}
	for rows.Next() {
		b, err := scanSQLiteBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Deposit(ctx context.Context, player string, amount uint64) (int64, error) {
	if player == "" {
		return 0, wager.ErrInvalidPlayer
	}
	if amount == 0 {
		return 0, wager.ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err = sqliteCredit(ctx, tx, player, amount); err != nil {
		return 0, err
	}
	var bal int64
	if err = tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player = ?`, player).Scan(&bal); err != nil {
		return 0, err
	}
	if err = sqliteLedger(ctx, tx, player, OpDeposit, int64(amount), 0); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return bal, nil
}

func (s *SQLite) Balance(ctx context.Context, player string) (int64, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player = ?`, player).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (s *SQLite) Ledger(ctx context.Context, player string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player, operation_type, amount, COALESCE(bet_id, 0), created_at
		FROM wallet_ledger WHERE player = ? ORDER BY seq`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			e            LedgerEntry
			betID, nanos int64
		)
		if err := rows.Scan(&e.ID, &e.Player, &e.Operation, &e.Amount, &betID, &nanos); err != nil {
			return nil, err
		}
		e.BetID = uint64(betID)
		e.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// sqliteCredit não atualiza (0 linhas afetadas) quando o saldo estouraria int64
func sqliteCredit(ctx context.Context, ex execer, player string, amount uint64) error {
	limit, err := creditLimit(amount)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO wallets (player, balance) VALUES (?, ?)
		ON CONFLICT (player) DO UPDATE SET balance = balance + excluded.balance
		WHERE wallets.balance <= ?`, player, int64(amount), limit)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wager.ErrInvalidAmount
	}
	return nil
}

// seq preserva a ordem de inserção mesmo com created_at igual
func sqliteLedger(ctx context.Context, ex execer, player, op string, amount int64, betID uint64) error {
	var bet any
	if betID != 0 {
		bet = int64(betID)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallet_ledger (id, seq, player, operation_type, amount, bet_id, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM wallet_ledger), ?, ?, ?, ?, ?)`,
		uuid.NewString(), player, op, amount, bet, time.Now().UnixNano())
	return err
}

type sqliteTx struct{ tx *sql.Tx }

func (t *sqliteTx) NextBetID(ctx context.Context) (uint64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE bet_master SET last_bet_id = last_bet_id + 1 WHERE id = 1 RETURNING last_bet_id`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wager.ErrMasterNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (t *sqliteTx) InsertBet(ctx context.Context, b *wager.Bet) error {
	playerB, priceB := predictionB(b)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bets (`+betColumns+`, bet_key)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		int64(b.ID), int64(b.Amount), b.PredictionA.Player, b.PredictionA.Price, playerB, priceB,
		string(b.State), b.OracleKey, b.ExpiryTS, int64(b.Escrow), b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano(), BetKey(b.ID))
	return err
}

// LockBet é uma leitura simples: a conexão única já garante exclusividade
func (t *sqliteTx) LockBet(ctx context.Context, id uint64) (*wager.Bet, error) {
	return scanSQLiteBet(t.tx.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id = ?`, int64(id)))
}

func (t *sqliteTx) UpdateBet(ctx context.Context, b *wager.Bet) error {
	playerB, priceB := predictionB(b)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bets SET player_b = ?, price_b = ?, state = ?, escrow = ?, updated_at = ?
		WHERE id = ?`,
		playerB, priceB, string(b.State), int64(b.Escrow), b.UpdatedAt.UnixNano(), int64(b.ID))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *sqliteTx) DeleteBet(ctx context.Context, id uint64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bets WHERE id = ?`, int64(id))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *sqliteTx) Debit(ctx context.Context, player string, amount uint64, betID uint64) error {
	var bal int64
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player = ?`, player).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return wager.ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if amount > math.MaxInt64 || bal < int64(amount) {
		return wager.ErrInsufficientFunds
	}
	if _, err = t.tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance - ? WHERE player = ?`, int64(amount), player); err != nil {
		return err
	}
	return sqliteLedger(ctx, t.tx, player, OpEscrow, int64(amount), betID)
}

func (t *sqliteTx) Credit(ctx context.Context, player string, amount uint64, betID uint64) error {
	if err := sqliteCredit(ctx, t.tx, player, amount); err != nil {
		return err
	}
	return sqliteLedger(ctx, t.tx, player, OpPayout, int64(amount), betID)
}
