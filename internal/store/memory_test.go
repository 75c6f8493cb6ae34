package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/store"
)

func TestMemoryStore_PutDocument_CAS(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	doc := &model.Document{
		EntityID: "C1",
		Kind:     model.KindConversation,
		Body:     json.RawMessage(`{"conversation_id":"C1","state":"created"}`),
	}

	require.NoError(t, s.PutDocument(ctx, doc, 0))
	assert.Equal(t, int64(1), doc.Version)

	// Insert again must conflict.
	err := s.PutDocument(ctx, doc, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	// Update with correct version succeeds.
	doc.Body = json.RawMessage(`{"conversation_id":"C1","state":"created","message_count":1}`)
	require.NoError(t, s.PutDocument(ctx, doc, 1))
	assert.Equal(t, int64(2), doc.Version)

	// Stale version loses.
	err = s.PutDocument(ctx, doc, 1)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestMemoryStore_GetDocument_NotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_TransactionLifecycle(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	tx := model.NewTransaction(model.TransactionCreateConversation, "C1", json.RawMessage(`{"conversation_id":"C1"}`), "node-1")

	state, err := s.BeginTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, model.TxUnseen, state)

	// Redelivery while pending bumps attempts and reports pending.
	state, err = s.BeginTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, state)

	rec, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)

	require.NoError(t, s.MarkApplied(ctx, tx.ID))

	state, err = s.BeginTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, model.TxApplied, state)

	// Applied is terminal; a rejection attempt must not regress it.
	require.NoError(t, s.MarkRejected(ctx, tx.ID, "late"))
	rec, err = s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxApplied, rec.State)
}

func TestMemoryStore_MarkRejected(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	tx := model.NewTransaction(model.TransactionPostMessage, "M1", json.RawMessage(`{"message_id":"M1"}`), "node-1")
	_, err := s.BeginTransaction(ctx, tx)
	require.NoError(t, err)

	require.NoError(t, s.MarkRejected(ctx, tx.ID, "schema violation"))

	rec, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxRejected, rec.State)
	assert.Equal(t, "schema violation", rec.Reason)
}

func TestMemoryStore_ListDocuments(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"M1", "M2"} {
		doc := &model.Document{
			EntityID: id,
			Kind:     model.KindMessage,
			Body:     json.RawMessage(`{"message_id":"` + id + `","conversation_id":"C1"}`),
		}
		require.NoError(t, s.PutDocument(ctx, doc, 0))
	}
	other := &model.Document{
		EntityID: "M3",
		Kind:     model.KindMessage,
		Body:     json.RawMessage(`{"message_id":"M3","conversation_id":"C2"}`),
	}
	require.NoError(t, s.PutDocument(ctx, other, 0))

	docs, err := s.ListDocuments(ctx, model.KindMessage, "C1", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
