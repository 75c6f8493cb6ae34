package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courriel-systems/messagerie/internal/model"
)

const opTimeout = 5 * time.Second

// PostgresStore implements Store on PostgreSQL. Documents live in a
// JSONB column keyed by entity id with an integer version for
// conditional writes; transaction records back the dedup ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pgx pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, entityID string) (*model.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT entity_id, kind, body, version, updated_at
		FROM documents
		WHERE entity_id = $1
	`

	var doc model.Document
	err := s.pool.QueryRow(ctx, query, entityID).Scan(
		&doc.EntityID, &doc.Kind, &doc.Body, &doc.Version, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr("get document", err)
	}

	return &doc, nil
}

func (s *PostgresStore) PutDocument(ctx context.Context, doc *model.Document, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if expectedVersion == 0 {
		query := `
			INSERT INTO documents (entity_id, kind, body, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (entity_id) DO NOTHING
		`
		tag, err := s.pool.Exec(ctx, query, doc.EntityID, doc.Kind, doc.Body)
		if err != nil {
			return wrapStoreErr("insert document", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		doc.Version = 1
		return nil
	}

	query := `
		UPDATE documents
		SET body = $2, version = version + 1, updated_at = now()
		WHERE entity_id = $1 AND version = $3
	`
	tag, err := s.pool.Exec(ctx, query, doc.EntityID, doc.Body, expectedVersion)
	if err != nil {
		return wrapStoreErr("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	doc.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, kind model.DocumentKind, conversationID string, limit int) ([]*model.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT entity_id, kind, body, version, updated_at
		FROM documents
		WHERE kind = $1
		  AND ($2 = '' OR body->>'conversation_id' = $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, kind, conversationID, limit)
	if err != nil {
		return nil, wrapStoreErr("list documents", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.EntityID, &doc.Kind, &doc.Body, &doc.Version, &doc.UpdatedAt); err != nil {
			return nil, wrapStoreErr("scan document", err)
		}
		docs = append(docs, &doc)
	}
	if rows.Err() != nil {
		return nil, wrapStoreErr("list documents", rows.Err())
	}

	return docs, nil
}

func (s *PostgresStore) BeginTransaction(ctx context.Context, tx model.Transaction) (model.TxState, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Insert as pending unless the id is already known. Attempts count
	// bumps on every redelivery of a still-pending transaction.
	query := `
		INSERT INTO transactions (id, tx_type, entity_id, payload, state, attempts, producer, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 1, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET attempts = transactions.attempts + CASE WHEN transactions.state = 'pending' THEN 1 ELSE 0 END
		RETURNING (xmax = 0) AS inserted, state
	`

	var inserted bool
	var state model.TxState
	err := s.pool.QueryRow(ctx, query, tx.ID, tx.Type, tx.EntityID, tx.Payload, tx.Producer).Scan(&inserted, &state)
	if err != nil {
		return model.TxUnseen, wrapStoreErr("begin transaction", err)
	}
	if inserted {
		return model.TxUnseen, nil
	}
	return state, nil
}

func (s *PostgresStore) MarkApplied(ctx context.Context, txID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		UPDATE transactions
		SET state = 'applied', applied_at = now()
		WHERE id = $1 AND state = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, txID)
	if err != nil {
		return wrapStoreErr("mark applied", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkTerminal(ctx, txID)
	}
	return nil
}

func (s *PostgresStore) MarkRejected(ctx context.Context, txID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		UPDATE transactions
		SET state = 'rejected', reason = $2, applied_at = now()
		WHERE id = $1 AND state = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, txID, reason)
	if err != nil {
		return wrapStoreErr("mark rejected", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkTerminal(ctx, txID)
	}
	return nil
}

// checkTerminal resolves a zero-row state transition: either the record
// is missing or it already reached a terminal state, which is fine.
func (s *PostgresStore) checkTerminal(ctx context.Context, txID string) error {
	rec, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if rec.State == model.TxApplied || rec.State == model.TxRejected {
		return nil
	}
	return fmt.Errorf("transaction %s in unexpected state %s", txID, rec.State)
}

func (s *PostgresStore) GetTransaction(ctx context.Context, txID string) (*model.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, tx_type, entity_id, payload, state, attempts, producer, COALESCE(reason, ''), created_at, applied_at
		FROM transactions
		WHERE id = $1
	`

	var rec model.TransactionRecord
	err := s.pool.QueryRow(ctx, query, txID).Scan(
		&rec.ID, &rec.Type, &rec.EntityID, &rec.Payload, &rec.State,
		&rec.Attempts, &rec.Producer, &rec.Reason, &rec.CreatedAt, &rec.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTxNotFound
		}
		return nil, wrapStoreErr("get transaction", err)
	}

	return &rec, nil
}

// wrapStoreErr tags connectivity-class failures as ErrUnavailable so
// the pump can treat them as retryable.
func wrapStoreErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQL-level errors are not connectivity problems.
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
