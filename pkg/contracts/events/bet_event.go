package events

import "time"

// Tipos de evento publicados no tópico "bet_events"
const (
	TypeBetCreated = "bet_created"
	TypeBetEntered = "bet_entered"
	TypeBetSettled = "bet_settled"
	TypeBetClosed  = "bet_closed"
)

type Prediction struct {
	Player string  `json:"player"`
	Price  float64 `json:"price"`
}

type Payout struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

// BetEvent é emitido pelo engine após cada transição confirmada.
// Campos de liquidação só vêm preenchidos em bet_settled.
type BetEvent struct {
	EventID     string      `json:"event_id"`
	Type        string      `json:"type"`
	BetID       uint64      `json:"bet_id"`
	State       string      `json:"state"`
	Amount      uint64      `json:"amount"`
	Escrow      uint64      `json:"escrow"`
	OracleKey   string      `json:"oracle_key"`
	ExpiryTS    int64       `json:"expiry_ts"`
	PredictionA Prediction  `json:"prediction_a"`
	PredictionB *Prediction `json:"prediction_b,omitempty"`
	OraclePrice *float64    `json:"oracle_price,omitempty"`
	Payouts     []Payout    `json:"payouts,omitempty"`
	Actor       string      `json:"actor,omitempty"`
	Ts          time.Time   `json:"ts"`
}
