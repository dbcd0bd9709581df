package ws

import "encoding/json"

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// BetID: "*" assina todas as apostas
type ClientMsg struct {
	Type  string `json:"type"`
	BetID string `json:"betId"`
}

// BetUpdate é o envelope enviado aos clientes inscritos
type BetUpdate struct {
	BetID   string          `json:"betId"`
	Payload json.RawMessage `json:"payload"`
}
