package dto

type CreateBetRequest struct {
	Player          string  `json:"player"`
	Amount          uint64  `json:"amount"`
	Price           float64 `json:"price"`            // palpite do criador
	DurationSeconds int64   `json:"duration_seconds"` // expiry = agora + duração
	OracleKey       string  `json:"oracle_key"`
}

type EnterBetRequest struct {
	Player string  `json:"player"`
	Price  float64 `json:"price"`
}

type ClaimBetRequest struct {
	OracleAccount string `json:"oracle_account"`
}

type CloseBetRequest struct {
	Player string `json:"player"`
}

type DepositRequest struct {
	Amount uint64 `json:"amount"`
}
