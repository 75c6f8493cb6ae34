package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/courriel-systems/messagerie/internal/metrics"
	"github.com/courriel-systems/messagerie/internal/model"
)

// DeadLetter is the terminal record of a message that cannot be
// processed and must not be retried.
type DeadLetter struct {
	Timestamp     time.Time       `json:"timestamp"`
	Subject       string          `json:"subject"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error"`
	Reason        string          `json:"reason"`
	Attempts      int             `json:"attempts"`
}

// DeadLetterQueue writes poison messages to a JetStream stream shared
// across pump instances.
type DeadLetterQueue struct {
	client  *JetStreamClient
	stream  jetstream.Stream
	written uint64
}

// NewDeadLetterQueue creates or updates the DLQ stream.
func NewDeadLetterQueue(ctx context.Context, client *JetStreamClient) (*DeadLetterQueue, error) {
	stream, err := client.CreateOrUpdateStream(ctx, DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &DeadLetterQueue{
		client: client,
		stream: stream,
	}, nil
}

// Write records a dead letter under messagerie.dlq.<reason>.
func (q *DeadLetterQueue) Write(ctx context.Context, letter DeadLetter) error {
	if q == nil {
		return nil
	}
	letter.Timestamp = time.Now().UTC()

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectDLQBase, letter.Reason)
	if _, err := q.client.PublishSync(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DeadLetters.WithLabelValues(letter.Reason).Inc()
	return nil
}

// WriteTransaction dead-letters a structurally invalid transaction.
func (q *DeadLetterQueue) WriteTransaction(ctx context.Context, tx model.Transaction, cause error, attempts int) error {
	return q.Write(ctx, DeadLetter{
		Subject:       SubjectTransactionBase,
		TransactionID: tx.ID,
		Payload:       tx.Payload,
		Error:         cause.Error(),
		Reason:        "schema_violation",
		Attempts:      attempts,
	})
}

// Stats returns DLQ counters from JetStream.
func (q *DeadLetterQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
	}
}
