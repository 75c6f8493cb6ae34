// Package store is the document store adapter. Entity state is kept as
// versioned documents; transaction records provide the durable dedup
// ledger the pump relies on.
package store

import (
	"context"
	"errors"

	"github.com/courriel-systems/messagerie/internal/model"
)

var (
	// ErrNotFound means no document exists for the entity id.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict means a conditional write lost: the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrTxNotFound means no transaction record exists for the id.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrUnavailable wraps connectivity failures so callers can
	// distinguish retryable store trouble from data errors.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the transactional key-document API the core builds on.
type Store interface {
	// GetDocument returns the current document for an entity id.
	GetDocument(ctx context.Context, entityID string) (*model.Document, error)

	// PutDocument writes a document conditionally. expectedVersion 0
	// requires that no document exists yet (insert); otherwise the
	// stored version must equal expectedVersion. On success the stored
	// version becomes expectedVersion+1.
	PutDocument(ctx context.Context, doc *model.Document, expectedVersion int64) error

	// ListDocuments returns documents of a kind, optionally filtered
	// by a conversation id present in the body.
	ListDocuments(ctx context.Context, kind model.DocumentKind, conversationID string, limit int) ([]*model.Document, error)

	// BeginTransaction records a transaction as pending and returns
	// the state it was in before the call. Calling it again for a
	// known id never regresses Applied or Rejected.
	BeginTransaction(ctx context.Context, tx model.Transaction) (model.TxState, error)

	// MarkApplied transitions a pending transaction to Applied.
	MarkApplied(ctx context.Context, txID string) error

	// MarkRejected transitions a pending transaction to Rejected with
	// a reason. Terminal; used by the dead-letter path.
	MarkRejected(ctx context.Context, txID string, reason string) error

	// GetTransaction returns the durable record for a transaction id.
	GetTransaction(ctx context.Context, txID string) (*model.TransactionRecord, error)

	// Ping reports connectivity for the readiness probe.
	Ping(ctx context.Context) error

	Close()
}
