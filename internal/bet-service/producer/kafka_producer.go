package producer

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/price-duel/pkg/contracts/events"
)

type KafkaPublisher struct {
	Writer *kafka.Writer
	Topic  string
}

func NewKafkaPublisher(w *kafka.Writer, topic string) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, Topic: topic}
}

// PublishBetEvent usa o betID como chave para manter a ordem dos eventos de uma aposta na mesma partição
func (p *KafkaPublisher) PublishBetEvent(ctx context.Context, e events.BetEvent) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(e.BetID, 10)),
		Value: b,
		Time:  e.Ts,
	})
}
