package model

import (
	"encoding/json"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTransactionID_Deterministic(t *testing.T) {
	payload := json.RawMessage(`{"conversation_id":"C1","name":"ops"}`)

	a := DeriveTransactionID(TransactionCreateConversation, "C1", payload)
	b := DeriveTransactionID(TransactionCreateConversation, "C1", payload)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDeriveTransactionID_DistinguishesFields(t *testing.T) {
	payload := json.RawMessage(`{"x":1}`)
	base := DeriveTransactionID(TransactionPostMessage, "M1", payload)

	assert.NotEqual(t, base, DeriveTransactionID(TransactionMarkRead, "M1", payload))
	assert.NotEqual(t, base, DeriveTransactionID(TransactionPostMessage, "M2", payload))
	assert.NotEqual(t, base, DeriveTransactionID(TransactionPostMessage, "M1", json.RawMessage(`{"x":2}`)))
}

func TestDeriveTransactionID_SeparatorPreventsAmbiguity(t *testing.T) {
	// Shifting bytes between entity id and payload must change the id.
	a := DeriveTransactionID(TransactionPostMessage, "ab", json.RawMessage("cd"))
	b := DeriveTransactionID(TransactionPostMessage, "abc", json.RawMessage("d"))

	assert.NotEqual(t, a, b)
}

func TestNewTransaction_IDIgnoresProducerAndTime(t *testing.T) {
	payload, err := json.Marshal(map[string]string{
		"message_id": gofakeit.UUID(),
		"content":    gofakeit.Sentence(8),
	})
	require.NoError(t, err)

	first := NewTransaction(TransactionPostMessage, "M1", payload, "node-a")
	second := NewTransaction(TransactionPostMessage, "M1", payload, "node-b")

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Producer, second.Producer)
}

func TestEnvelopeValid(t *testing.T) {
	env := Envelope{
		Action:           "post_message",
		Payload:          json.RawMessage(`{}`),
		CertificateChain: "-----BEGIN CERTIFICATE-----",
		Signature:        "c2ln",
	}
	assert.True(t, env.Valid())

	for _, strip := range []func(*Envelope){
		func(e *Envelope) { e.Action = "" },
		func(e *Envelope) { e.Payload = nil },
		func(e *Envelope) { e.CertificateChain = "" },
		func(e *Envelope) { e.Signature = "" },
	} {
		broken := env
		strip(&broken)
		assert.False(t, broken.Valid())
	}
}
