package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/price-duel/internal/wager"
)

// Memory é um Store em processo, usado em ENV=local e nos testes.
// Um único mutex serializa as transações; cada mutação registra um undo
// para que um erro no meio da operação não deixe efeito parcial.
type Memory struct {
	mu       sync.Mutex
	master   bool
	lastID   uint64
	bets     map[uint64]*wager.Bet
	balances map[string]int64
	ledger   []LedgerEntry
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		bets:     make(map[uint64]*wager.Bet),
		balances: make(map[string]int64),
		now:      time.Now,
	}
}

func (m *Memory) InitMaster(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.master {
		return wager.ErrMasterExists
	}
	m.master = true
	return nil
}

func (m *Memory) LastBetID(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.master {
		return 0, wager.ErrMasterNotInitialized
	}
	return m.lastID, nil
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *Memory) GetBet(_ context.Context, id uint64) (*wager.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, wager.ErrBetNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) ListBets(_ context.Context) ([]*wager.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*wager.Bet) bool { return true }), nil
}

func (m *Memory) ListClaimable(_ context.Context, now time.Time) ([]*wager.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(b *wager.Bet) bool { return b.CanClaim(now) == nil }), nil
}

func (m *Memory) sorted(keep func(*wager.Bet) bool) []*wager.Bet {
	out := make([]*wager.Bet, 0, len(m.bets))
	for _, b := range m.bets {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Deposit(_ context.Context, player string, amount uint64) (int64, error) {
	if player == "" {
		return 0, wager.ErrInvalidPlayer
	}
	if amount == 0 {
		return 0, wager.ErrInvalidAmount
	}
	limit, err := creditLimit(amount)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[player] > limit {
		return 0, wager.ErrInvalidAmount
	}
	m.balances[player] += int64(amount)
	m.appendLedger(player, OpDeposit, int64(amount), 0)
	return m.balances[player], nil
}

func (m *Memory) Balance(_ context.Context, player string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[player], nil
}

func (m *Memory) Ledger(_ context.Context, player string) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.ledger {
		if e.Player == player {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) appendLedger(player, op string, amount int64, betID uint64) {
	m.ledger = append(m.ledger, LedgerEntry{
		ID:        uuid.NewString(),
		Player:    player,
		Operation: op,
		Amount:    amount,
		BetID:     betID,
		CreatedAt: m.now(),
	})
}

// memTx roda com m.mu já adquirido por InTx
type memTx struct {
	m    *Memory
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) NextBetID(_ context.Context) (uint64, error) {
	m := tx.m
	if !m.master {
		return 0, wager.ErrMasterNotInitialized
	}
	prev := m.lastID
	m.lastID++
	tx.undo = append(tx.undo, func() { m.lastID = prev })
	return m.lastID, nil
}

func (tx *memTx) InsertBet(_ context.Context, b *wager.Bet) error {
	m := tx.m
	if _, ok := m.bets[b.ID]; ok {
		return ErrDuplicateBet
	}
	m.bets[b.ID] = b.Clone()
	id := b.ID
	tx.undo = append(tx.undo, func() { delete(m.bets, id) })
	return nil
}

func (tx *memTx) LockBet(_ context.Context, id uint64) (*wager.Bet, error) {
	b, ok := tx.m.bets[id]
	if !ok {
		return nil, wager.ErrBetNotFound
	}
	return b.Clone(), nil
}

func (tx *memTx) UpdateBet(_ context.Context, b *wager.Bet) error {
	m := tx.m
	prev, ok := m.bets[b.ID]
	if !ok {
		return wager.ErrBetNotFound
	}
	m.bets[b.ID] = b.Clone()
	tx.undo = append(tx.undo, func() { m.bets[prev.ID] = prev })
	return nil
}

func (tx *memTx) DeleteBet(_ context.Context, id uint64) error {
	m := tx.m
	prev, ok := m.bets[id]
	if !ok {
		return wager.ErrBetNotFound
	}
	delete(m.bets, id)
	tx.undo = append(tx.undo, func() { m.bets[id] = prev })
	return nil
}

func (tx *memTx) Debit(_ context.Context, player string, amount uint64, betID uint64) error {
	m := tx.m
	if amount > math.MaxInt64 || m.balances[player] < int64(amount) {
		return wager.ErrInsufficientFunds
	}
	tx.move(player, -int64(amount), OpEscrow, betID)
	return nil
}

func (tx *memTx) Credit(_ context.Context, player string, amount uint64, betID uint64) error {
	limit, err := creditLimit(amount)
	if err != nil {
		return err
	}
	if tx.m.balances[player] > limit {
		return wager.ErrInvalidAmount
	}
	tx.move(player, int64(amount), OpPayout, betID)
	return nil
}

func (tx *memTx) move(player string, delta int64, op string, betID uint64) {
	m := tx.m
	prevBal, existed := m.balances[player]
	prevLedger := len(m.ledger)
	m.balances[player] = prevBal + delta
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	m.appendLedger(player, op, amount, betID)
	tx.undo = append(tx.undo, func() {
		if existed {
			m.balances[player] = prevBal
		} else {
			delete(m.balances, player)
		}
		m.ledger = m.ledger[:prevLedger]
	})
}
