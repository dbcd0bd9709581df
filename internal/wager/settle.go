package wager

import "math"

// OraclePrice é a leitura de um feed de preço.
// Preço real = Price * 10^Expo.
type OraclePrice struct {
	Key   string `json:"key"`
	Price int64  `json:"price"`
	Expo  int32  `json:"expo"`
}

// Payout é um crédito a ser feito a partir do escrow da aposta
type Payout struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

// Outcome é o resultado da liquidação: estado terminal + créditos
type Outcome struct {
	State     State    `json:"state"`
	OraclePx  float64  `json:"oracle_price"`
	AdjustedA float64  `json:"adjusted_a"`
	AdjustedB float64  `json:"adjusted_b"`
	Payouts   []Payout `json:"payouts"`
}

// Total soma os créditos do resultado; sempre 2*Amount
func (o Outcome) Total() uint64 {
	var sum uint64
	for _, p := range o.Payouts {
		sum += p.Amount
	}
	return sum
}

// Settle decide o vencedor comparando o desvio absoluto de cada palpite
// em relação ao preço do oráculo.
//
// Empate é igualdade exata dos desvios, sem epsilon.
func Settle(b *Bet, px OraclePrice) (Outcome, error) {
	if b.PredictionB == nil {
		return Outcome{}, ErrCannotClaim
	}
	if px.Price > math.MaxUint32 || px.Price < -math.MaxUint32 {
		return Outcome{}, ErrPriceTooBig
	}

	oracle := float64(px.Price)
	multiplier := math.Pow(10, float64(px.Expo))
	adjA := b.PredictionA.Price * multiplier
	adjB := b.PredictionB.Price * multiplier

	devA := math.Abs(oracle - adjA)
	devB := math.Abs(oracle - adjB)

	out := Outcome{OraclePx: oracle, AdjustedA: adjA, AdjustedB: adjB}
	switch {
	case devA < devB:
		out.State = StatePlayerAWon
		out.Payouts = []Payout{{Player: b.PredictionA.Player, Amount: b.Prize()}}
	case devB < devA:
		out.State = StatePlayerBWon
		out.Payouts = []Payout{{Player: b.PredictionB.Player, Amount: b.Prize()}}
	default:
		out.State = StateDraw
		out.Payouts = []Payout{
			{Player: b.PredictionA.Player, Amount: b.Amount},
			{Player: b.PredictionB.Player, Amount: b.Amount},
		}
	}
	return out, nil
}
