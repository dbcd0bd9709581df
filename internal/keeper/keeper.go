package keeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-service/engine"
	"github.com/radieske/price-duel/internal/wager"
)

// Lister lista apostas já expiradas e ainda dentro da janela de liquidação
type Lister interface {
	ListClaimable(ctx context.Context, now time.Time) ([]*wager.Bet, error)
}

type Claimer interface {
	ClaimBet(ctx context.Context, betID uint64, oracleAccount string) (*wager.Bet, error)
}

// Keeper liquida automaticamente apostas STARTED que expiraram.
// Qualquer um pode liquidar; o keeper usa a própria chave de oráculo da aposta.
type Keeper struct {
	log      *zap.Logger
	lister   Lister
	claimer  Claimer
	interval time.Duration
	now      func() time.Time

	OnSettled func(state wager.State)
	OnFailed  func(kind string)
}

func New(log *zap.Logger, l Lister, c Claimer, interval time.Duration) *Keeper {
	return &Keeper{log: log, lister: l, claimer: c, interval: interval, now: time.Now}
}

// Start roda uma passada imediata e depois a cada intervalo, até ctx terminar
func (k *Keeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	if _, err := k.RunOnce(ctx); err != nil {
		k.log.Error("keeper initial run", zap.Error(err))
	}
	for {
		select {
		case <-ticker.C:
			if _, err := k.RunOnce(ctx); err != nil {
				k.log.Error("keeper run", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce tenta liquidar todas as apostas elegíveis e retorna quantas foram liquidadas.
// Falha em uma aposta não interrompe as demais.
func (k *Keeper) RunOnce(ctx context.Context) (settled int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in keeper run: %v", r)
		}
	}()

	bets, err := k.lister.ListClaimable(ctx, k.now())
	if err != nil {
		return 0, fmt.Errorf("list claimable: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}
	k.log.Info("claimable bets found", zap.Int("count", len(bets)))

	for _, b := range bets {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := k.claimer.ClaimBet(ctx, b.ID, b.OracleKey)
		if err != nil {
			k.log.Warn("keeper claim failed", zap.Uint64("bet_id", b.ID), zap.Error(err))
			if k.OnFailed != nil {
				k.OnFailed(engine.ErrorKind(err))
			}
			continue
		}
		settled++
		if k.OnSettled != nil {
			k.OnSettled(res.State)
		}
	}
	k.log.Info("keeper pass done", zap.Int("settled", settled), zap.Int("candidates", len(bets)))
	return settled, nil
}
