package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/radieske/price-duel/internal/wager"
)

// Metrics agrupa os contadores Prometheus do ciclo de vida das apostas
type Metrics struct {
	Created  prometheus.Counter
	Entered  prometheus.Counter
	Settled  *prometheus.CounterVec // label: outcome
	Closed   prometheus.Counter
	Failures *prometheus.CounterVec // labels: op, kind
	Payouts  prometheus.Counter
}

// NewMetrics cria e registra os contadores em reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Created:  prometheus.NewCounter(prometheus.CounterOpts{Name: "bets_created_total", Help: "apostas criadas"}),
		Entered:  prometheus.NewCounter(prometheus.CounterOpts{Name: "bets_entered_total", Help: "apostas com segundo participante"}),
		Settled:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bets_settled_total", Help: "apostas liquidadas por resultado"}, []string{"outcome"}),
		Closed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "bets_closed_total", Help: "apostas fechadas"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bet_operation_failures_total", Help: "operações rejeitadas por tipo"}, []string{"op", "kind"}),
		Payouts:  prometheus.NewCounter(prometheus.CounterOpts{Name: "bet_payout_amount_total", Help: "valor total pago na liquidação"}),
	}
	reg.MustRegister(m.Created, m.Entered, m.Settled, m.Closed, m.Failures, m.Payouts)
	return m
}

var errKinds = []struct {
	err  error
	kind string
}{
	{wager.ErrCannotEnter, "cannot_enter"},
	{wager.ErrCannotClaim, "cannot_claim"},
	{wager.ErrCannotClose, "cannot_close"},
	{wager.ErrInvalidPythKey, "invalid_pyth_key"},
	{wager.ErrInvalidPythAccount, "invalid_pyth_account"},
	{wager.ErrPriceTooBig, "price_too_big"},
	{wager.ErrInsufficientFunds, "insufficient_funds"},
	{wager.ErrBetNotFound, "not_found"},
	{wager.ErrMasterNotInitialized, "master_not_initialized"},
	{wager.ErrMasterExists, "master_exists"},
	{wager.ErrInvalidAmount, "invalid_input"},
	{wager.ErrInvalidDuration, "invalid_input"},
	{wager.ErrInvalidPlayer, "invalid_input"},
	{wager.ErrInvalidPrice, "invalid_input"},
}

// ErrorKind classifica o erro para métricas e logs; "internal" se não for de domínio
func ErrorKind(err error) string {
	for _, k := range errKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsRejection indica erro de regra/validação (não de infraestrutura)
func IsRejection(err error) bool { return ErrorKind(err) != "internal" }
