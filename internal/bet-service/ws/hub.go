package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AllBets assina eventos de todas as apostas
const AllBets = "*"

// Hub gerencia conexões WebSocket e assinaturas por aposta
// subs: betID (ou "*") -> conjunto de conexões inscritas
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[string]map[*websocket.Conn]struct{}
	// gorilla/websocket não aceita escritas concorrentes na mesma conexão
	wmu sync.Mutex
}

// NewHub cria um Hub com política customizada de origem
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*websocket.Conn]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão: subscribe/unsubscribe/ping
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.BetID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.BetID]; !ok {
				h.subs[msg.BetID] = make(map[*websocket.Conn]struct{})
			}
			h.subs[msg.BetID][conn] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.unsubscribe(msg.BetID, conn)
		case "ping":
			h.write(conn, mustJSON(map[string]string{"type": "pong"}))
		}
	}

	// remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(betID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[betID]; ok {
		delete(m, conn)
		if len(m) == 0 {
			delete(h.subs, betID)
		}
	}
}

// Broadcast envia a atualização aos inscritos na aposta e aos inscritos em "*"
func (h *Hub) Broadcast(update BetUpdate) {
	h.mu.RLock()
	targets := make(map[*websocket.Conn]struct{})
	for _, key := range []string{update.BetID, AllBets} {
		for c := range h.subs[key] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b := mustJSON(update)
	for c := range targets {
		h.write(c, b)
	}
}

// Subscribers retorna quantas conexões estão inscritas em betID
func (h *Hub) Subscribers(betID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[betID])
}

func (h *Hub) write(c *websocket.Conn, b []byte) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		h.log.Debug("ws write failed", zap.Error(err))
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
