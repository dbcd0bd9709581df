package wager

import (
	"math"
	"strings"
	"time"
)

const (
	// Quanto mais perto da expiração, maior a vantagem de quem entra.
	// A entrada fecha este tempo antes do vencimento.
	MinRemainingTimeUntilExpiry int64 = 120

	// Janela, após a expiração, em que a liquidação ainda é aceita
	MaxClaimablePeriod int64 = 300
)

// Prediction é o palpite de preço de um participante
type Prediction struct {
	Player string  `json:"player"`
	Price  float64 `json:"price"`
}

// Bet é o registro completo de uma aposta entre dois participantes.
// Escrow acompanha o valor retido: Amount em CREATED, 2*Amount em STARTED e 0 após liquidação.
type Bet struct {
	ID          uint64      `json:"id"`
	Amount      uint64      `json:"amount"`
	PredictionA Prediction  `json:"prediction_a"`
	PredictionB *Prediction `json:"prediction_b,omitempty"`
	State       State       `json:"state"`
	OracleKey   string      `json:"oracle_key"`
	ExpiryTS    int64       `json:"expiry_ts"`
	Escrow      uint64      `json:"escrow"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewBet monta a aposta em CREATED com o palpite do criador e o stake retido.
// A chave do oráculo não é validada aqui, só na liquidação.
func NewBet(id uint64, player string, amount uint64, price float64, duration int64, oracleKey string, now time.Time) (*Bet, error) {
	if strings.TrimSpace(player) == "" {
		return nil, ErrInvalidPlayer
	}
	if amount == 0 || amount > math.MaxInt64/2 {
		return nil, ErrInvalidAmount
	}
	if !finite(price) {
		return nil, ErrInvalidPrice
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Bet{
		ID:          id,
		Amount:      amount,
		PredictionA: Prediction{Player: player, Price: price},
		State:       StateCreated,
		OracleKey:   oracleKey,
		ExpiryTS:    now.Unix() + duration,
		Escrow:      amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Prize é o total pago ao vencedor
func (b *Bet) Prize() uint64 { return b.Amount * 2 }

// CanEnter valida a entrada do segundo participante
func (b *Bet) CanEnter(now time.Time) error {
	if b.State != StateCreated || b.PredictionB != nil {
		return ErrCannotEnter
	}
	if now.Unix() >= b.ExpiryTS-MinRemainingTimeUntilExpiry {
		return ErrCannotEnter
	}
	return nil
}

// CanClaim valida a janela de liquidação: [expiry, expiry+300]
func (b *Bet) CanClaim(now time.Time) error {
	if b.State != StateStarted || b.PredictionB == nil {
		return ErrCannotClaim
	}
	ts := now.Unix()
	if ts < b.ExpiryTS || ts > b.ExpiryTS+MaxClaimablePeriod {
		return ErrCannotClaim
	}
	return nil
}

// CanClose exige aposta liquidada e fechamento pelo criador
func (b *Bet) CanClose(closer string) error {
	if !b.State.Terminal() || closer != b.PredictionA.Player {
		return ErrCannotClose
	}
	return nil
}

// Enter registra o palpite B, dobra o escrow e move para STARTED
func (b *Bet) Enter(player string, price float64, now time.Time) error {
	if strings.TrimSpace(player) == "" {
		return ErrInvalidPlayer
	}
	if !finite(price) {
		return ErrInvalidPrice
	}
	if err := b.CanEnter(now); err != nil {
		return err
	}
	next, err := b.State.transition(StateStarted)
	if err != nil {
		return err
	}
	b.PredictionB = &Prediction{Player: player, Price: price}
	b.State = next
	b.Escrow += b.Amount
	b.UpdatedAt = now
	return nil
}

// Apply grava o resultado da liquidação e zera o escrow
func (b *Bet) Apply(o Outcome, now time.Time) error {
	next, err := b.State.transition(o.State)
	if err != nil {
		return err
	}
	b.State = next
	b.Escrow = 0
	b.UpdatedAt = now
	return nil
}

// Clone devolve uma cópia independente (inclusive do palpite B)
func (b *Bet) Clone() *Bet {
	c := *b
	if b.PredictionB != nil {
		p := *b.PredictionB
		c.PredictionB = &p
	}
	return &c
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
