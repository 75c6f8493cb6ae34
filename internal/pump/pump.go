// Package pump is the transaction core: it consumes signed messages
// from the broker, derives transactions through the command handler,
// and applies them to the document store exactly once per transaction
// id despite at-least-once delivery.
package pump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/courriel-systems/messagerie/internal/broker"
	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/metrics"
	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/pki"
	"github.com/courriel-systems/messagerie/internal/store"
)

// CommandHandler derives transactions from a signed envelope.
type CommandHandler interface {
	Handle(ctx context.Context, env *model.Envelope) ([]model.Transaction, error)
}

// EventPublisher emits applied events and rejection notifications.
type EventPublisher interface {
	PublishApplied(ctx context.Context, tx model.Transaction) error
	PublishRejection(ctx context.Context, r broker.Rejection) error
}

// DeadLetterWriter records poison messages terminally.
type DeadLetterWriter interface {
	Write(ctx context.Context, letter broker.DeadLetter) error
	WriteTransaction(ctx context.Context, tx model.Transaction, cause error, attempts int) error
}

// CacheInvalidator drops cached reads for entities whose documents
// changed, so the query path stops serving pre-apply state.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, entityIDs ...string)
}

// Options tune retry behavior and concurrency.
type Options struct {
	// Workers is the number of concurrent consumers pulling from the
	// broker. Each processes one message fully before taking the next.
	Workers int

	// MaxApplyAttempts bounds retries on transient store failures
	// before the message is handed back for redelivery.
	MaxApplyAttempts int

	// RetryBase and RetryMax shape the exponential backoff between
	// transient apply attempts.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Workers:          4,
		MaxApplyAttempts: 3,
		RetryBase:        100 * time.Millisecond,
		RetryMax:         2 * time.Second,
	}
}

// Pump serializes transaction application per entity and owns the
// acknowledgement boundary with the broker.
type Pump struct {
	store       store.Store
	commands    CommandHandler
	publisher   EventPublisher
	dlq         DeadLetterWriter
	invalidator CacheInvalidator
	locks       *keyLocks
	appliers    map[model.TransactionType]applyFunc
	opts        Options
	logger      *logging.Logger
}

// New creates a pump. publisher and dlq may be nil in tests.
func New(s store.Store, commands CommandHandler, publisher EventPublisher, dlq DeadLetterWriter, opts Options, logger *logging.Logger) *Pump {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxApplyAttempts <= 0 {
		opts.MaxApplyAttempts = 1
	}
	return &Pump{
		store:     s,
		commands:  commands,
		publisher: publisher,
		dlq:       dlq,
		locks:     newKeyLocks(),
		appliers:  appliers(),
		opts:      opts,
		logger:    logger.With(logging.Component("pompe_messages")),
	}
}

// SetInvalidator attaches the cache invalidation hook. Optional; a pump
// without one simply lets cached reads age out on TTL.
func (p *Pump) SetInvalidator(inv CacheInvalidator) {
	p.invalidator = inv
}

// Run attaches the pump's workers to the broker consumer and blocks
// until ctx is cancelled, then drains: in-flight messages finish
// processing before the subscriptions close.
func (p *Pump) Run(ctx context.Context, consumer *broker.Consumer) error {
	stops := make([]func(), 0, p.opts.Workers)
	for i := 0; i < p.opts.Workers; i++ {
		stop, err := consumer.Consume(ctx, p.HandleDelivery)
		if err != nil {
			for _, s := range stops {
				s()
			}
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		stops = append(stops, stop)
	}

	p.logger.InfoContext(ctx, "pump running", "workers", p.opts.Workers)
	<-ctx.Done()

	p.logger.Info("pump draining")
	for _, stop := range stops {
		stop()
	}
	return nil
}

// HandleDelivery processes one broker message end to end: verify,
// derive, apply, then decide the acknowledgement. The message is only
// acknowledged once every derived transaction is durably terminal.
func (p *Pump) HandleDelivery(ctx context.Context, d *broker.Delivery) broker.Disposition {
	var env model.Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil {
		p.deadLetterRaw(ctx, d, err, "malformed_envelope")
		metrics.MessagesConsumed.WithLabelValues(d.Subject, "malformed").Inc()
		return broker.Term
	}
	if env.CorrelationID == "" {
		// Rejections and events still need something to correlate on.
		env.CorrelationID = uuid.NewString()
	}

	txs, err := p.commands.Handle(ctx, &env)
	if err != nil {
		return p.rejectEnvelope(ctx, d, &env, err)
	}

	for _, tx := range txs {
		if err := p.Apply(ctx, tx); err != nil {
			if errors.Is(err, ErrSchemaViolation) {
				// Already dead-lettered and terminally rejected;
				// acknowledging prevents a poison loop.
				continue
			}
			p.logger.WarnContext(ctx, "transient apply failure, message will redeliver",
				logging.TransactionID(tx.ID),
				logging.EntityID(tx.EntityID),
				logging.Attempt(d.Attempts),
				logging.Error(err),
			)
			metrics.MessagesConsumed.WithLabelValues(d.Subject, "retry").Inc()
			return broker.Retry
		}
	}

	if p.invalidator != nil && len(txs) > 0 {
		seen := make(map[string]struct{}, len(txs))
		ids := make([]string, 0, len(txs))
		for _, tx := range txs {
			if _, ok := seen[tx.EntityID]; ok {
				continue
			}
			seen[tx.EntityID] = struct{}{}
			ids = append(ids, tx.EntityID)
		}
		p.invalidator.Invalidate(ctx, ids...)
	}

	if p.publisher != nil {
		for _, tx := range txs {
			// Best effort: the transaction is already durable, so an
			// event publish failure must not trigger reprocessing.
			if err := p.publisher.PublishApplied(ctx, tx); err != nil {
				p.logger.WarnContext(ctx, "applied event publish failed",
					logging.TransactionID(tx.ID), logging.Error(err))
			}
		}
	}

	metrics.MessagesConsumed.WithLabelValues(d.Subject, "applied").Inc()
	return broker.Ack
}

// Apply drives one transaction to a terminal state. It is idempotent:
// an already-applied id returns success without touching state, and a
// pending id left by a crash resumes application.
func (p *Pump) Apply(ctx context.Context, tx model.Transaction) error {
	applier, ok := p.appliers[tx.Type]
	if !ok {
		return p.rejectTransaction(ctx, tx, fmt.Errorf("%w: unknown type %s", ErrSchemaViolation, tx.Type), 1)
	}

	unlock := p.locks.Lock(tx.EntityID)
	defer unlock()

	state, err := p.store.BeginTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	switch state {
	case model.TxApplied:
		metrics.TransactionsDeduplicated.Inc()
		return nil
	case model.TxRejected:
		// Terminal; redelivery of a rejected transaction is a no-op.
		return nil
	}

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxApplyAttempts; attempt++ {
		if attempt > 0 {
			metrics.ApplyRetries.Inc()
			if err := backoff(ctx, p.opts.RetryBase, p.opts.RetryMax, attempt-1); err != nil {
				return err
			}
		}

		lastErr = applier(ctx, p.store, tx)
		if lastErr == nil {
			if err := p.store.MarkApplied(ctx, tx.ID); err != nil {
				lastErr = err
				continue
			}
			metrics.TransactionsApplied.WithLabelValues(string(tx.Type)).Inc()
			metrics.ApplyDuration.Observe(time.Since(started).Seconds())
			p.logger.DebugContext(ctx, "transaction applied",
				logging.TransactionID(tx.ID),
				logging.EntityID(tx.EntityID),
			)
			return nil
		}

		if errors.Is(lastErr, ErrSchemaViolation) {
			return p.rejectTransaction(ctx, tx, lastErr, attempt+1)
		}
		// Transient (store unavailable, CAS exhaustion): retry.
	}

	// Retries exhausted; leave the record pending and the message
	// unacknowledged so redelivery resumes it.
	return fmt.Errorf("apply %s after %d attempts: %w", tx.ID, p.opts.MaxApplyAttempts, lastErr)
}

// rejectTransaction routes a permanently invalid transaction to the
// dead-letter path and marks it terminally rejected.
func (p *Pump) rejectTransaction(ctx context.Context, tx model.Transaction, cause error, attempts int) error {
	if err := p.store.MarkRejected(ctx, tx.ID, cause.Error()); err != nil && !errors.Is(err, store.ErrTxNotFound) {
		return fmt.Errorf("mark rejected: %w", err)
	}
	if p.dlq != nil {
		if err := p.dlq.WriteTransaction(ctx, tx, cause, attempts); err != nil {
			p.logger.ErrorContext(ctx, "dead letter write failed",
				logging.TransactionID(tx.ID), logging.Error(err))
		}
	}
	metrics.TransactionsRejected.WithLabelValues(string(tx.Type), "schema_violation").Inc()
	p.logger.WarnContext(ctx, "transaction rejected",
		logging.TransactionID(tx.ID),
		logging.EntityID(tx.EntityID),
		logging.Reason(cause.Error()),
	)
	return fmt.Errorf("%w: %v", ErrSchemaViolation, cause)
}

// rejectEnvelope maps a command-path failure to a disposition and
// notifies the submitter. Trust and command errors are isolated
// failures: they terminate this message without affecting others.
func (p *Pump) rejectEnvelope(ctx context.Context, d *broker.Delivery, env *model.Envelope, cause error) broker.Disposition {
	reason := "command_error"
	switch {
	case errors.Is(cause, pki.ErrChainBroken):
		reason = "chain_broken"
	case errors.Is(cause, pki.ErrExpired):
		reason = "certificate_expired"
	case errors.Is(cause, pki.ErrSignatureMismatch):
		reason = "signature_mismatch"
	}

	if reason != "command_error" {
		metrics.TrustRejections.WithLabelValues(reason).Inc()
	}

	if p.publisher != nil {
		rejection := broker.Rejection{
			CorrelationID: env.CorrelationID,
			Action:        env.Action,
			Reason:        reason,
			Detail:        cause.Error(),
		}
		if err := p.publisher.PublishRejection(ctx, rejection); err != nil {
			p.logger.WarnContext(ctx, "rejection publish failed", logging.Error(err))
		}
	}
	if p.dlq != nil {
		_ = p.dlq.Write(ctx, broker.DeadLetter{
			Subject:       d.Subject,
			CorrelationID: env.CorrelationID,
			Payload:       env.Payload,
			Error:         cause.Error(),
			Reason:        reason,
			Attempts:      d.Attempts,
		})
	}

	metrics.MessagesConsumed.WithLabelValues(d.Subject, "rejected").Inc()
	p.logger.WarnContext(ctx, "message rejected",
		logging.Subject(d.Subject),
		logging.CorrelationID(env.CorrelationID),
		logging.Reason(reason),
	)
	return broker.Term
}

func (p *Pump) deadLetterRaw(ctx context.Context, d *broker.Delivery, cause error, reason string) {
	if p.dlq == nil {
		return
	}
	// The raw bytes failed JSON decoding, so quote them before they go
	// into a JSON dead letter.
	quoted, _ := json.Marshal(string(d.Data))
	err := p.dlq.Write(ctx, broker.DeadLetter{
		Subject:  d.Subject,
		Payload:  quoted,
		Error:    cause.Error(),
		Reason:   reason,
		Attempts: d.Attempts,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "dead letter write failed", logging.Error(err))
	}
}
