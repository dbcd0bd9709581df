package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/price-duel/internal/wager"
)

// Postgres implementa o Store sobre database/sql + lib/pq.
// Cada operação do engine roda em uma transação com lock pessimista na linha da aposta.
type Postgres struct{ db *sql.DB }

// NewPostgres retorna o repositório de apostas e carteiras
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS bet_master (
	id          SMALLINT PRIMARY KEY CHECK (id = 1),
	last_bet_id BIGINT   NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS bets (
	id          BIGINT PRIMARY KEY,
	bet_key     TEXT   NOT NULL UNIQUE,
	amount      BIGINT NOT NULL CHECK (amount > 0),
	player_a    TEXT   NOT NULL,
	price_a     DOUBLE PRECISION NOT NULL,
	player_b    TEXT,
	price_b     DOUBLE PRECISION,
	state       TEXT   NOT NULL,
	oracle_key  TEXT   NOT NULL,
	expiry_ts   BIGINT NOT NULL,
	escrow      BIGINT NOT NULL CHECK (escrow >= 0),
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bets_state_expiry_idx ON bets (state, expiry_ts);
CREATE TABLE IF NOT EXISTS wallets (
	player  TEXT   PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	version BIGINT NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS wallet_ledger (
	id             UUID PRIMARY KEY,
	player         TEXT   NOT NULL,
	operation_type TEXT   NOT NULL,
	amount         BIGINT NOT NULL,
	bet_id         BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	seq            BIGSERIAL
);
ALTER TABLE wallet_ledger ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
`

// EnsureSchema cria as tabelas caso ainda não existam
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InitMaster cria o contador global; falha se já existir
func (p *Postgres) InitMaster(ctx context.Context) error {
	res, err := p.db.ExecContext(ctx,
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

func (p *Postgres) LastBetID(ctx context.Context) (uint64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `SELECT last_bet_id FROM bet_master WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wager.ErrMasterNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// InTx abre uma transação, executa fn e faz commit; qualquer erro desfaz tudo
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const betColumns = `id, amount, player_a, price_a, player_b, price_b, state, oracle_key, expiry_ts, escrow, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (*wager.Bet, error) {
	var (
		b       wager.Bet
		id      int64
		amount  int64
		escrow  int64
		state   string
		playerB sql.NullString
		priceB  sql.NullFloat64
	)
	if err := row.Scan(&id, &amount, &b.PredictionA.Player, &b.PredictionA.Price,
		&playerB, &priceB, &state, &b.OracleKey, &b.ExpiryTS, &escrow, &b.CreatedAt, &b.UpdatedAt); err != nil {
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
	if playerB.Valid {
		b.PredictionB = &wager.Prediction{Player: playerB.String, Price: priceB.Float64}
	}
	return &b, nil
}

func (p *Postgres) GetBet(ctx context.Context, id uint64) (*wager.Bet, error) {
	return scanBet(p.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, int64(id)))
}

func (p *Postgres) ListBets(ctx context.Context) ([]*wager.Bet, error) {
	return p.queryBets(ctx, `SELECT `+betColumns+` FROM bets ORDER BY id`)
}

func (p *Postgres) ListClaimable(ctx context.Context, now time.Time) ([]*wager.Bet, error) {
	return p.queryBets(ctx, `
		SELECT `+betColumns+`
		FROM bets
		WHERE state = $1 AND expiry_ts <= $2 AND expiry_ts + $3 >= $2
		ORDER BY expiry_ts, id`,
		string(wager.StateStarted), now.Unix(), wager.MaxClaimablePeriod)
}

func (p *Postgres) queryBets(ctx context.Context, q string, args ...any) ([]*wager.Bet, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*wager.Bet{}
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Deposit incrementa o saldo (criando a carteira se preciso) e registra no ledger
func (p *Postgres) Deposit(ctx context.Context, player string, amount uint64) (int64, error) {
	if player == "" {
		return 0, wager.ErrInvalidPlayer
	}
	if amount == 0 {
		return 0, wager.ErrInvalidAmount
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	limit, err := creditLimit(amount)
	if err != nil {
		return 0, err
	}
	var bal int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallets (player, balance) VALUES ($1, $2)
		ON CONFLICT (player) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, version = wallets.version + 1
		WHERE wallets.balance <= $3
		RETURNING balance`, player, int64(amount), limit).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wager.ErrInvalidAmount
	}
	if err != nil {
		return 0, err
	}
	if err = insertLedger(ctx, tx, player, OpDeposit, int64(amount), 0); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return bal, nil
}

func (p *Postgres) Balance(ctx context.Context, player string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player = $1`, player).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (p *Postgres) Ledger(ctx context.Context, player string) ([]LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, player, operation_type, amount, COALESCE(bet_id, 0), created_at
		FROM wallet_ledger WHERE player = $1 ORDER BY seq`, player)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var (
			e     LedgerEntry
			betID int64
		)
		if err := rows.Scan(&e.ID, &e.Player, &e.Operation, &e.Amount, &betID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BetID = uint64(betID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLedger(ctx context.Context, ex execer, player, op string, amount int64, betID uint64) error {
	var bet any
	if betID != 0 {
		bet = int64(betID)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallet_ledger (id, player, operation_type, amount, bet_id)
		VALUES ($1, $2, $3, $4, $5)`, uuid.NewString(), player, op, amount, bet)
	return err
}

// pgTx implementa Tx sobre *sql.Tx
type pgTx struct{ tx *sql.Tx }

// NextBetID incrementa o contador dentro da transação; o lock de linha serializa criações concorrentes
func (t *pgTx) NextBetID(ctx context.Context) (uint64, error) {
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

func (t *pgTx) InsertBet(ctx context.Context, b *wager.Bet) error {
	playerB, priceB := predictionB(b)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bets (`+betColumns+`, bet_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		int64(b.ID), int64(b.Amount), b.PredictionA.Player, b.PredictionA.Price, playerB, priceB,
		string(b.State), b.OracleKey, b.ExpiryTS, int64(b.Escrow), b.CreatedAt, b.UpdatedAt, BetKey(b.ID))
	return err
}

func (t *pgTx) LockBet(ctx context.Context, id uint64) (*wager.Bet, error) {
	return scanBet(t.tx.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, int64(id)))
}

func (t *pgTx) UpdateBet(ctx context.Context, b *wager.Bet) error {
	playerB, priceB := predictionB(b)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bets SET player_b = $1, price_b = $2, state = $3, escrow = $4, updated_at = $5
		WHERE id = $6`,
		playerB, priceB, string(b.State), int64(b.Escrow), b.UpdatedAt, int64(b.ID))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (t *pgTx) DeleteBet(ctx context.Context, id uint64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bets WHERE id = $1`, int64(id))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Debit trava a carteira (FOR UPDATE), confere saldo e debita para o escrow
func (t *pgTx) Debit(ctx context.Context, player string, amount uint64, betID uint64) error {
	var bal int64
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE player = $1 FOR UPDATE`, player).Scan(&bal)
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
		`UPDATE wallets SET balance = balance - $1, version = version + 1 WHERE player = $2`, int64(amount), player); err != nil {
		return err
	}
	return insertLedger(ctx, t.tx, player, OpEscrow, int64(amount), betID)
}

func (t *pgTx) Credit(ctx context.Context, player string, amount uint64, betID uint64) error {
	limit, err := creditLimit(amount)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallets (player, balance) VALUES ($1, $2)
		ON CONFLICT (player) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, version = wallets.version + 1
		WHERE wallets.balance <= $3`,
		player, int64(amount), limit)
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
	return insertLedger(ctx, t.tx, player, OpPayout, int64(amount), betID)
}

func predictionB(b *wager.Bet) (sql.NullString, sql.NullFloat64) {
	if b.PredictionB == nil {
		return sql.NullString{}, sql.NullFloat64{}
	}
	return sql.NullString{String: b.PredictionB.Player, Valid: true},
		sql.NullFloat64{Float64: b.PredictionB.Price, Valid: true}
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wager.ErrBetNotFound
	}
	return nil
}
