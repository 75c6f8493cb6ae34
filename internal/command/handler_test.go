package command_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courriel-systems/messagerie/internal/command"
	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/pki"
	"github.com/courriel-systems/messagerie/internal/pki/pkitest"
)

type testSigner struct {
	ca   *pkitest.Authority
	leaf *pkitest.Leaf
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)
	leaf, err := ca.Issue("node-alice", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return &testSigner{ca: ca, leaf: leaf}
}

func (s *testSigner) envelope(action string, payload string) *model.Envelope {
	return &model.Envelope{
		CorrelationID:    gofakeit.UUID(),
		Action:           action,
		Payload:          json.RawMessage(payload),
		CertificateChain: string(s.leaf.PEM),
		Signature:        s.leaf.Sign([]byte(payload)),
	}
}

func newHandler(t *testing.T, signer *testSigner) *command.Handler {
	t.Helper()
	logger := logging.New(slog.LevelError, "text")
	return command.NewHandler(pki.NewBundle(signer.ca.Pool()), logger)
}

func TestHandle_CreateConversation(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	env := signer.envelope(command.ActionCreateConversation, `{"conversation_id":"C1","name":"ops"}`)

	txs, err := h.Handle(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionCreateConversation, txs[0].Type)
	assert.Equal(t, "C1", txs[0].EntityID)
	assert.Equal(t, "node-alice", txs[0].Producer)
	assert.NotEmpty(t, txs[0].ID)
}

func TestHandle_RedeliveryYieldsIdenticalIDs(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	env := signer.envelope(command.ActionPostMessage,
		`{"message_id":"M1","conversation_id":"C1","content":"bonjour"}`)

	first, err := h.Handle(context.Background(), env)
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), env)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestHandle_TrustFailureRejectsWithoutDerivation(t *testing.T) {
	trusted := newTestSigner(t)
	rogue := newTestSigner(t)
	h := newHandler(t, trusted)

	// Signed by a chain that does not terminate at the trusted root.
	env := rogue.envelope(command.ActionCreateConversation, `{"conversation_id":"C1"}`)

	_, err := h.Handle(context.Background(), env)
	assert.ErrorIs(t, err, pki.ErrChainBroken)
}

func TestHandle_ExpiredSignerNeverBecomesCommand(t *testing.T) {
	signer := newTestSigner(t)
	expired, err := signer.ca.Issue("node-old", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	h := newHandler(t, signer)

	payload := `{"conversation_id":"C1"}`
	env := &model.Envelope{
		CorrelationID:    gofakeit.UUID(),
		Action:           command.ActionCreateConversation,
		Payload:          json.RawMessage(payload),
		CertificateChain: string(expired.PEM),
		Signature:        expired.Sign([]byte(payload)),
	}

	txs, err := h.Handle(context.Background(), env)
	assert.ErrorIs(t, err, pki.ErrExpired)
	assert.Nil(t, txs)
}

func TestHandle_UnsupportedAction(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	env := signer.envelope("reticulate_splines", `{"x":1}`)

	_, err := h.Handle(context.Background(), env)
	assert.ErrorIs(t, err, command.ErrUnsupportedAction)
}

func TestHandle_MalformedPayload(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	tests := []struct {
		name    string
		action  string
		payload string
	}{
		{"missing required field", command.ActionCreateConversation, `{"name":"no id"}`},
		{"not json", command.ActionPostMessage, `not json at all`},
		{"empty batch", command.ActionMarkRead, `{"message_ids":[]}`},
		{"blank id in batch", command.ActionDeleteMessages, `{"message_ids":[""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := signer.envelope(tt.action, tt.payload)
			_, err := h.Handle(context.Background(), env)
			assert.ErrorIs(t, err, command.ErrMalformedAction)
		})
	}
}

func TestHandle_BatchActionFansOut(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	env := signer.envelope(command.ActionDeleteMessages, `{"message_ids":["M1","M2","M3"]}`)

	txs, err := h.Handle(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	seen := map[string]bool{}
	for _, tx := range txs {
		assert.Equal(t, model.TransactionDeleteMessage, tx.Type)
		seen[tx.EntityID] = true
	}
	assert.Equal(t, map[string]bool{"M1": true, "M2": true, "M3": true}, seen)
}

func TestHandle_IncompleteEnvelope(t *testing.T) {
	signer := newTestSigner(t)
	h := newHandler(t, signer)

	_, err := h.Handle(context.Background(), &model.Envelope{Action: "create_conversation"})
	assert.ErrorIs(t, err, command.ErrMalformedAction)
}
