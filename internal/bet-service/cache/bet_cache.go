package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/wager"
)

// genTTL mantém o contador de geração bem além de qualquer leitura em andamento
const genTTL = 24 * time.Hour

// setIfCurrent grava o snapshot só se a geração não mudou desde a leitura no banco
var setIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if not cur then cur = '0' end
if cur ~= ARGV[2] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// BetCache guarda snapshots JSON de apostas no Redis ("bet:{id}").
// Cada Invalidate incrementa "bet:{id}:gen"; um preenchimento iniciado
// antes da invalidação é descartado.
type BetCache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *BetCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BetCache{R: r, TTL: ttl}
}

func genKey(id uint64) string { return store.BetKey(id) + ":gen" }

func (c *BetCache) Get(ctx context.Context, id uint64) (*wager.Bet, bool, error) {
	b, err := c.R.Get(ctx, store.BetKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bet wager.Bet
	if err := json.Unmarshal(b, &bet); err != nil {
		return nil, false, err
	}
	return &bet, true, nil
}

// Generation deve ser lida antes de consultar o banco
func (c *BetCache) Generation(ctx context.Context, id uint64) (int64, error) {
	g, err := c.R.Get(ctx, genKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return g, err
}

// SetIfCurrent retorna false quando a aposta foi invalidada depois de gen
func (c *BetCache) SetIfCurrent(ctx context.Context, bet *wager.Bet, gen int64) (bool, error) {
	b, err := json.Marshal(bet)
	if err != nil {
		return false, err
	}
	n, err := setIfCurrent.Run(ctx, c.R,
		[]string{store.BetKey(bet.ID), genKey(bet.ID)},
		b, gen, c.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate é chamado pelo engine após cada transição confirmada
func (c *BetCache) Invalidate(ctx context.Context, id uint64) error {
	_, err := c.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(id))
		p.Expire(ctx, genKey(id), genTTL)
		p.Del(ctx, store.BetKey(id))
		return nil
	})
	return err
}
