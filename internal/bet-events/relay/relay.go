package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/price-duel/pkg/contracts/events"
)

// MessageReader é satisfeito por *kafka.Reader
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter é satisfeito por *kafka.Writer (DLQ)
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Relay consome eventos de aposta do Kafka e os repassa ao canal Redis
// lido pelo websocket do bet-service. Callbacks alimentam métricas.
type Relay struct {
	Log         *zap.Logger
	Reader      MessageReader
	DLQ         MessageWriter // opcional
	Broadcaster Broadcaster
	Channel     string

	OnConsumed  func()
	OnRelayed   func(eventType string)
	OnError     func(stage string)
	RetryDelay  time.Duration
	PublishWait time.Duration
}

// wsUpdate espelha ws.BetUpdate sem importar o pacote do bet-service
type wsUpdate struct {
	BetID   string          `json:"betId"`
	Payload json.RawMessage `json:"payload"`
}

// Run executa o loop até o contexto ser cancelado
func (r *Relay) Run(ctx context.Context) error {
	delay := r.RetryDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	for {
		m, err := r.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Log.Warn("kafka read failed", zap.Error(err))
			r.errored("read")
			time.Sleep(delay)
			continue
		}
		if r.OnConsumed != nil {
			r.OnConsumed()
		}
		r.handle(ctx, m)
	}
}

func (r *Relay) handle(ctx context.Context, m kafka.Message) {
	var ev events.BetEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.BetID == 0 {
		r.Log.Warn("invalid bet event", zap.Error(err), zap.ByteString("key", m.Key))
		r.errored("decode")
		r.toDLQ(ctx, m)
		return
	}

	b, _ := json.Marshal(wsUpdate{BetID: strconv.FormatUint(ev.BetID, 10), Payload: m.Value})
	wait := r.PublishWait
	if wait == 0 {
		wait = 500 * time.Millisecond
	}
	pctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := r.Broadcaster.Publish(pctx, r.Channel, b); err != nil {
		r.Log.Warn("broadcast publish failed", zap.Uint64("bet_id", ev.BetID), zap.Error(err))
		r.errored("publish")
		return
	}
	if r.OnRelayed != nil {
		r.OnRelayed(ev.Type)
	}
	r.Log.Debug("bet event relayed", zap.Uint64("bet_id", ev.BetID), zap.String("type", ev.Type))
}

func (r *Relay) toDLQ(ctx context.Context, m kafka.Message) {
	if r.DLQ == nil {
		return
	}
	if err := r.DLQ.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value, Time: time.Now()}); err != nil {
		r.Log.Error("dlq write failed", zap.Error(err))
		r.errored("dlq")
	}
}

func (r *Relay) errored(stage string) {
	if r.OnError != nil {
		r.OnError(stage)
	}
}
