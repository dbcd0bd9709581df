package dto

import "time"

type MasterResponse struct {
	LastBetID uint64 `json:"last_bet_id"`
}

type WalletResponse struct {
	Player  string        `json:"player"`
	Balance int64         `json:"balance"`
	Ledger  []LedgerEntry `json:"ledger,omitempty"`
}

type LedgerEntry struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"` // DEPOSIT | ESCROW | PAYOUT
	Amount    int64     `json:"amount"`
	BetID     uint64    `json:"bet_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
