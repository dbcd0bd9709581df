package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-service/oracle"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/wager"
	"github.com/radieske/price-duel/pkg/contracts/events"
)

// Publisher recebe os eventos do ciclo de vida após o commit
type Publisher interface {
	PublishBetEvent(ctx context.Context, e events.BetEvent) error
}

// Invalidator remove snapshots em cache de uma aposta alterada
type Invalidator interface {
	Invalidate(ctx context.Context, betID uint64) error
}

// Engine executa as operações de aposta: cada chamada é uma transação
// do Store que aplica estado e movimentação de fundos juntos ou nada.
type Engine struct {
	log     *zap.Logger
	store   store.Store
	feed    oracle.Feed
	publ    Publisher
	cache   Invalidator
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publ = p } }
func WithCache(c Invalidator) Option { return func(e *Engine) { e.cache = c } }
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(log *zap.Logger, s store.Store, feed oracle.Feed, opts ...Option) *Engine {
	e := &Engine{log: log, store: s, feed: feed, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateMaster inicializa o contador global; só pode ser feito uma vez
func (e *Engine) CreateMaster(ctx context.Context) error {
	if err := e.store.InitMaster(ctx); err != nil {
		e.fail("create_master", err)
		return err
	}
	e.log.Info("master initialized")
	return nil
}

// CreateBet aloca um novo id, grava o palpite A e retém o stake do criador
func (e *Engine) CreateBet(ctx context.Context, player string, amount uint64, price float64, durationSeconds int64, oracleKey string) (*wager.Bet, error) {
	now := e.now()
	bet, err := wager.NewBet(0, player, amount, price, durationSeconds, oracleKey, now)
	if err != nil {
		e.fail("create", err)
		return nil, err
	}

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		id, err := tx.NextBetID(ctx)
		if err != nil {
			return err
		}
		bet.ID = id
		if err := tx.InsertBet(ctx, bet); err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}
		return tx.Debit(ctx, player, amount, id)
	})
	if err != nil {
		e.fail("create", err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Created.Inc()
	}
	e.log.Info("bet created",
		zap.Uint64("bet_id", bet.ID),
		zap.String("player", player),
		zap.Uint64("amount", amount),
		zap.Int64("expiry_ts", bet.ExpiryTS),
		zap.String("oracle_key", oracleKey),
	)
	e.after(ctx, events.TypeBetCreated, bet, player, nil)
	return bet, nil
}

// EnterBet registra o segundo participante e retém o stake dele
func (e *Engine) EnterBet(ctx context.Context, betID uint64, player string, price float64) (*wager.Bet, error) {
	now := e.now()
	var bet *wager.Bet
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if err := b.Enter(player, price, now); err != nil {
			return err
		}
		if err := tx.Debit(ctx, player, b.Amount, b.ID); err != nil {
			return err
		}
		if err := tx.UpdateBet(ctx, b); err != nil {
			return fmt.Errorf("update bet: %w", err)
		}
		bet = b
		return nil
	})
	if err != nil {
		e.fail("enter", err, zap.Uint64("bet_id", betID))
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Entered.Inc()
	}
	e.log.Info("bet entered", zap.Uint64("bet_id", betID), zap.String("player", player))
	e.after(ctx, events.TypeBetEntered, bet, player, nil)
	return bet, nil
}

// ClaimBet liquida a aposta contra a leitura do oráculo e paga o(s) vencedor(es).
// A leitura é feita fora da transação; a janela e o estado são revalidados sob lock.
func (e *Engine) ClaimBet(ctx context.Context, betID uint64, oracleAccount string) (*wager.Bet, error) {
	now := e.now()

	pre, err := e.store.GetBet(ctx, betID)
	if err != nil {
		e.fail("claim", err, zap.Uint64("bet_id", betID))
		return nil, err
	}
	if err := pre.CanClaim(now); err != nil {
		e.fail("claim", err, zap.Uint64("bet_id", betID))
		return nil, err
	}
	// identidade exata; a normalização fica só na consulta ao feed
	if oracleAccount != pre.OracleKey {
		e.fail("claim", wager.ErrInvalidPythKey, zap.Uint64("bet_id", betID), zap.String("oracle_account", oracleAccount))
		return nil, wager.ErrInvalidPythKey
	}
	px, err := e.feed.Price(ctx, oracleAccount)
	if err == nil && px.Key != "" && oracle.NormalizeKey(px.Key) != oracle.NormalizeKey(oracleAccount) {
		err = fmt.Errorf("%w: feed answered for %s", wager.ErrInvalidPythAccount, px.Key)
	}
	if err != nil {
		if !errors.Is(err, wager.ErrInvalidPythAccount) {
			err = fmt.Errorf("oracle price: %w", err)
		}
		e.fail("claim", err, zap.Uint64("bet_id", betID))
		return nil, err
	}

	var (
		bet *wager.Bet
		out wager.Outcome
	)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if err := b.CanClaim(now); err != nil {
			return err
		}
		o, err := wager.Settle(b, px)
		if err != nil {
			return err
		}
		for _, p := range o.Payouts {
			if err := tx.Credit(ctx, p.Player, p.Amount, b.ID); err != nil {
				return fmt.Errorf("credit %s: %w", p.Player, err)
			}
		}
		if err := b.Apply(o, now); err != nil {
			return err
		}
		if err := tx.UpdateBet(ctx, b); err != nil {
			return fmt.Errorf("update bet: %w", err)
		}
		bet, out = b, o
		return nil
	})
	if err != nil {
		e.fail("claim", err, zap.Uint64("bet_id", betID))
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Settled.WithLabelValues(string(out.State)).Inc()
		e.metrics.Payouts.Add(float64(out.Total()))
	}
	e.log.Info("bet settled",
		zap.Uint64("bet_id", betID),
		zap.String("outcome", string(out.State)),
		zap.Float64("oracle_price", out.OraclePx),
		zap.Int32("oracle_expo", px.Expo),
		zap.Float64("adjusted_a", out.AdjustedA),
		zap.Float64("adjusted_b", out.AdjustedB),
		zap.Uint64("paid", out.Total()),
	)
	e.after(ctx, events.TypeBetSettled, bet, "", &out)
	return bet, nil
}

// CloseBet remove o registro de uma aposta liquidada; só o criador pode fechar
func (e *Engine) CloseBet(ctx context.Context, betID uint64, player string) error {
	var bet *wager.Bet
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if err := b.CanClose(player); err != nil {
			return err
		}
		if err := tx.DeleteBet(ctx, b.ID); err != nil {
			return fmt.Errorf("delete bet: %w", err)
		}
		bet = b
		return nil
	})
	if err != nil {
		e.fail("close", err, zap.Uint64("bet_id", betID))
		return err
	}

	if e.metrics != nil {
		e.metrics.Closed.Inc()
	}
	e.log.Info("bet closed", zap.Uint64("bet_id", betID), zap.String("player", player))
	e.after(ctx, events.TypeBetClosed, bet, player, nil)
	return nil
}

func (e *Engine) fail(op string, err error, fields ...zap.Field) {
	kind := ErrorKind(err)
	if e.metrics != nil {
		e.metrics.Failures.WithLabelValues(op, kind).Inc()
	}
	fields = append(fields, zap.String("op", op), zap.String("kind", kind), zap.Error(err))
	if kind == "internal" {
		e.log.Error("bet operation failed", fields...)
		return
	}
	e.log.Debug("bet operation rejected", fields...)
}

// after invalida o cache e publica o evento; falhas aqui não desfazem a operação
func (e *Engine) after(ctx context.Context, typ string, b *wager.Bet, actor string, out *wager.Outcome) {
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, b.ID); err != nil {
			e.log.Warn("cache invalidate failed", zap.Uint64("bet_id", b.ID), zap.Error(err))
		}
	}
	if e.publ == nil {
		return
	}
	ev := toEvent(typ, b, actor, out, e.now().UTC())
	if err := e.publ.PublishBetEvent(ctx, ev); err != nil {
		e.log.Warn("publish bet event failed", zap.String("type", typ), zap.Uint64("bet_id", b.ID), zap.Error(err))
	}
}

func toEvent(typ string, b *wager.Bet, actor string, out *wager.Outcome, ts time.Time) events.BetEvent {
	ev := events.BetEvent{
		EventID:     uuid.NewString(),
		Type:        typ,
		BetID:       b.ID,
		State:       string(b.State),
		Amount:      b.Amount,
		Escrow:      b.Escrow,
		OracleKey:   b.OracleKey,
		ExpiryTS:    b.ExpiryTS,
		PredictionA: events.Prediction{Player: b.PredictionA.Player, Price: b.PredictionA.Price},
		Actor:       actor,
		Ts:          ts,
	}
	if b.PredictionB != nil {
		ev.PredictionB = &events.Prediction{Player: b.PredictionB.Player, Price: b.PredictionB.Price}
	}
	if out != nil {
		px := out.OraclePx
		ev.OraclePrice = &px
		for _, p := range out.Payouts {
			ev.Payouts = append(ev.Payouts, events.Payout{Player: p.Player, Amount: p.Amount})
		}
	}
	return ev
}
