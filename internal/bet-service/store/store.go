package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/radieske/price-duel/internal/wager"
)

// Operações registradas no ledger da carteira
const (
	OpDeposit = "DEPOSIT"
	OpEscrow  = "ESCROW"
	OpPayout  = "PAYOUT"
)

var ErrDuplicateBet = errors.New("bet id already in use")

// creditLimit retorna o maior saldo que ainda comporta amount sem estourar int64
func creditLimit(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, wager.ErrInvalidAmount
	}
	return math.MaxInt64 - int64(amount), nil
}

// BetNamespace prefixa a chave de cada registro de aposta
const BetNamespace = "bet"

// BetKey gera a chave determinística de uma aposta: "bet:{id}"
func BetKey(id uint64) string { return BetNamespace + ":" + strconv.FormatUint(id, 10) }

// LedgerEntry é uma movimentação da carteira de um jogador
type LedgerEntry struct {
	ID        string
	Player    string
	Operation string
	Amount    int64
	BetID     uint64
	CreatedAt time.Time
}

// Tx é a unidade de trabalho de uma operação. Tudo feito através dela
// é aplicado junto no commit ou descartado no rollback.
type Tx interface {
	NextBetID(ctx context.Context) (uint64, error)
	InsertBet(ctx context.Context, b *wager.Bet) error
	// LockBet carrega a aposta com lock exclusivo até o fim da transação
	LockBet(ctx context.Context, id uint64) (*wager.Bet, error)
	UpdateBet(ctx context.Context, b *wager.Bet) error
	DeleteBet(ctx context.Context, id uint64) error

	// Debit move fundos da carteira do jogador para o escrow da aposta
	Debit(ctx context.Context, player string, amount uint64, betID uint64) error
	// Credit paga um jogador a partir do escrow da aposta; saldo que estouraria int64 vira ErrInvalidAmount
	Credit(ctx context.Context, player string, amount uint64, betID uint64) error
}

// Store define a persistência usada pelo engine e pelos handlers HTTP
type Store interface {
	InitMaster(ctx context.Context) error
	LastBetID(ctx context.Context) (uint64, error)

	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetBet(ctx context.Context, id uint64) (*wager.Bet, error)
	ListBets(ctx context.Context) ([]*wager.Bet, error)
	// ListClaimable retorna apostas STARTED dentro da janela de liquidação
	ListClaimable(ctx context.Context, now time.Time) ([]*wager.Bet, error)

	Deposit(ctx context.Context, player string, amount uint64) (newBalance int64, err error)
	Balance(ctx context.Context, player string) (int64, error)
	Ledger(ctx context.Context, player string) ([]LedgerEntry, error)

	Ping(ctx context.Context) error
}
