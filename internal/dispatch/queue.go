package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Message: задание на отправку заказа в iiko.
type Message struct {
	OrderID    uuid.UUID `json:"order_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaQueue публикует задания на отправку; ключ сообщения: id заказа, чтобы
// задания одного заказа попадали в одну партицию.
type KafkaQueue struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaQueue(writer MessageWriter) *KafkaQueue {
	return &KafkaQueue{writer: writer, now: time.Now}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, orderID uuid.UUID) error {
	payload, err := json.Marshal(Message{OrderID: orderID, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("dispatch: failed to encode message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(orderID.String()),
		Value: payload,
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("dispatch: failed to publish order %s: %w", orderID, err)
	}

	log.Debug().Stringer("order_id", orderID).Msg("dispatch: order submission queued")
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
