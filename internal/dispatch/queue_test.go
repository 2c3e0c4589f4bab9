package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/dispatch"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaQueue_Enqueue(t *testing.T) {
	writer := &recordingWriter{}
	q := dispatch.NewKafkaQueue(writer)
	id := uuid.Must(uuid.NewV4())

	require.NoError(t, q.Enqueue(context.Background(), id))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, id.String(), string(msg.Key))

	var decoded dispatch.Message
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, id, decoded.OrderID)
	assert.False(t, decoded.EnqueuedAt.IsZero())
}

func TestKafkaQueue_EnqueueError(t *testing.T) {
	q := dispatch.NewKafkaQueue(&recordingWriter{err: errors.New("leader not available")})

	err := q.Enqueue(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorContains(t, err, "leader not available")
}
