package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Disposition tells the consumer what to do with a processed message.
type Disposition int

const (
	// Ack acknowledges: the message is done and will not be redelivered.
	Ack Disposition = iota

	// Retry negatively acknowledges with a delay to force redelivery.
	Retry

	// Term terminates delivery: the message is poison and has already
	// been routed to the dead-letter stream.
	Term
)

// Delivery is one broker message handed to the pump.
type Delivery struct {
	Subject  string
	Data     []byte
	Attempts int
}

// DeliveryHandler processes one delivery fully and decides its fate.
type DeliveryHandler func(ctx context.Context, d *Delivery) Disposition

// Consumer pulls messages from the transactions work queue.
type Consumer struct {
	client     *JetStreamClient
	consumer   jetstream.Consumer
	retryDelay time.Duration
}

// NewConsumer ensures the transactions stream and durable consumer
// exist and returns a Consumer bound to them.
func NewConsumer(ctx context.Context, client *JetStreamClient, cfg ConsumerConfig) (*Consumer, error) {
	if _, err := client.CreateOrUpdateStream(ctx, TransactionsStream); err != nil {
		return nil, fmt.Errorf("create transactions stream: %w", err)
	}

	consumer, err := client.CreateOrUpdateConsumer(ctx, TransactionsStream.Name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create transactions consumer: %w", err)
	}

	return &Consumer{
		client:     client,
		consumer:   consumer,
		retryDelay: 5 * time.Second,
	}, nil
}

// Consume starts delivering messages to handler until the returned stop
// function is called. Stopping drains: in-flight handlers finish before
// the subscription closes, so no message is lost mid-apply.
func (c *Consumer) Consume(ctx context.Context, handler DeliveryHandler) (func(), error) {
	cons, err := c.consumer.Consume(func(msg jetstream.Msg) {
		d := &Delivery{
			Subject: msg.Subject(),
			Data:    msg.Data(),
		}
		if meta, err := msg.Metadata(); err == nil {
			d.Attempts = int(meta.NumDelivered)
		}

		switch handler(ctx, d) {
		case Ack:
			_ = msg.Ack()
		case Retry:
			_ = msg.NakWithDelay(c.retryDelay)
		case Term:
			_ = msg.Term()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() { cons.Drain() }, nil
}
