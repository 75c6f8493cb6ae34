package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/courriel-systems/messagerie/internal/model"
)

// MemoryStore is an in-memory Store used by unit tests and local
// development. It mirrors the conditional-write and transaction-record
// semantics of the postgres implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*model.Document
	txs       map[string]*model.TransactionRecord

	failPuts   int
	failPutErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*model.Document),
		txs:       make(map[string]*model.TransactionRecord),
	}
}

// FailNextPuts makes the next n PutDocument calls return err. Used by
// tests to exercise the pump's retry path.
func (s *MemoryStore) FailNextPuts(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = n
	s.failPutErr = err
}

func (s *MemoryStore) GetDocument(_ context.Context, entityID string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	cp.Body = append([]byte(nil), doc.Body...)
	return &cp, nil
}

func (s *MemoryStore) PutDocument(_ context.Context, doc *model.Document, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPuts > 0 {
		s.failPuts--
		return s.failPutErr
	}

	existing, ok := s.documents[doc.EntityID]
	if expectedVersion == 0 {
		if ok {
			return ErrVersionConflict
		}
	} else {
		if !ok || existing.Version != expectedVersion {
			return ErrVersionConflict
		}
	}

	cp := *doc
	cp.Body = append([]byte(nil), doc.Body...)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.documents[doc.EntityID] = &cp
	doc.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, kind model.DocumentKind, conversationID string, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var docs []*model.Document
	for _, doc := range s.documents {
		if doc.Kind != kind {
			continue
		}
		if conversationID != "" && !strings.Contains(string(doc.Body), `"conversation_id":"`+conversationID+`"`) {
			continue
		}
		cp := *doc
		cp.Body = append([]byte(nil), doc.Body...)
		docs = append(docs, &cp)
		if len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

func (s *MemoryStore) BeginTransaction(_ context.Context, tx model.Transaction) (model.TxState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.txs[tx.ID]; ok {
		if rec.State == model.TxPending {
			rec.Attempts++
		}
		return rec.State, nil
	}

	s.txs[tx.ID] = &model.TransactionRecord{
		ID:        tx.ID,
		Type:      tx.Type,
		EntityID:  tx.EntityID,
		Payload:   append([]byte(nil), tx.Payload...),
		State:     model.TxPending,
		Attempts:  1,
		Producer:  tx.Producer,
		CreatedAt: time.Now().UTC(),
	}
	return model.TxUnseen, nil
}

func (s *MemoryStore) MarkApplied(_ context.Context, txID string) error {
	return s.transition(txID, model.TxApplied, "")
}

func (s *MemoryStore) MarkRejected(_ context.Context, txID string, reason string) error {
	return s.transition(txID, model.TxRejected, reason)
}

func (s *MemoryStore) transition(txID string, target model.TxState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.txs[txID]
	if !ok {
		return ErrTxNotFound
	}
	if rec.State == model.TxApplied || rec.State == model.TxRejected {
		// Terminal states never regress.
		return nil
	}
	now := time.Now().UTC()
	rec.State = target
	rec.Reason = reason
	rec.AppliedAt = &now
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, txID string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.txs[txID]
	if !ok {
		return nil, ErrTxNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
