package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}

type Submitter interface {
	Submit(ctx context.Context, id uuid.UUID) (*order.SubmitResult, error)
}

type WorkerConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Worker читает задания из Kafka и отправляет заказы. Повторяет только сбои
// инфраструктуры; отказ iiko уже сохранён в заказе и повтором не лечится.
type Worker struct {
	reader    MessageReader
	submitter Submitter
	locker    Locker
	cfg       WorkerConfig
}

func NewWorker(reader MessageReader, submitter Submitter, locker Locker, cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{reader: reader, submitter: submitter, locker: locker, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("dispatch: worker started")
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info().Msg("dispatch: worker stopped")
				return nil
			}
			log.Error().Err(err).Msg("dispatch: failed to fetch message")
			continue
		}

		w.handle(ctx, msg)

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("dispatch: failed to commit message")
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) {
	var m Message
	if err := json.Unmarshal(msg.Value, &m); err != nil || m.OrderID == uuid.Nil {
		log.Error().Err(err).Str("key", string(msg.Key)).Msg("dispatch: malformed message dropped")
		return
	}

	token, ok, err := w.locker.Acquire(ctx, m.OrderID)
	if err != nil {
		// Без Redis продолжаем: от двойной отправки защищает claim в базе.
		log.Warn().Err(err).Stringer("order_id", m.OrderID).Msg("dispatch: lock unavailable, relying on database claim")
	} else if !ok {
		log.Info().Stringer("order_id", m.OrderID).Msg("dispatch: order is handled by another worker")
		return
	} else {
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), m.OrderID, token); err != nil {
				log.Warn().Err(err).Stringer("order_id", m.OrderID).Msg("dispatch: failed to release lock")
			}
		}()
	}

	w.submit(ctx, m.OrderID)
}

// submit делает до MaxAttempts попыток с фиксированной паузой.
func (w *Worker) submit(ctx context.Context, orderID uuid.UUID) {
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		res, err := w.submitter.Submit(ctx, orderID)
		if err == nil {
			log.Info().Stringer("order_id", orderID).Str("status", res.Status.String()).Bool("skipped", res.Skipped).
				Int("attempt", attempt).Msg("dispatch: submission finished")
			return
		}
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Error().Stringer("order_id", orderID).Msg("dispatch: order not found, message dropped")
			return
		}

		log.Warn().Err(err).Stringer("order_id", orderID).Int("attempt", attempt).Int("max_attempts", w.cfg.MaxAttempts).
			Msg("dispatch: submission failed")
		if attempt == w.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.RetryDelay):
		}
	}
	log.Error().Stringer("order_id", orderID).Msg("dispatch: retries exhausted, order needs manual resubmission")
}
