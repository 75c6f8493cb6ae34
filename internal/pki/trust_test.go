package pki_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courriel-systems/messagerie/internal/pki"
	"github.com/courriel-systems/messagerie/internal/pki/pkitest"
)

func TestVerify_ValidChain(t *testing.T) {
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)

	leaf, err := ca.Issue("node-alice", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	bundle := pki.NewBundle(ca.Pool())
	payload := []byte(`{"conversation_id":"C1"}`)

	identity, err := bundle.Verify(string(leaf.PEM), leaf.Sign(payload), payload)
	require.NoError(t, err)
	assert.Equal(t, "node-alice", identity.CommonName)
	assert.Equal(t, "messagerie-test", identity.Organization)
}

func TestVerify_ExpiredCertificate(t *testing.T) {
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)

	leaf, err := ca.Issue("node-expired", time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	bundle := pki.NewBundle(ca.Pool())
	payload := []byte(`{}`)

	_, err = bundle.Verify(string(leaf.PEM), leaf.Sign(payload), payload)
	assert.ErrorIs(t, err, pki.ErrExpired)
}

func TestVerify_ChainBroken(t *testing.T) {
	trusted, err := pkitest.NewAuthority("trusted-root")
	require.NoError(t, err)
	rogue, err := pkitest.NewAuthority("rogue-root")
	require.NoError(t, err)

	leaf, err := rogue.Issue("node-rogue", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	bundle := pki.NewBundle(trusted.Pool())
	payload := []byte(`{}`)

	_, err = bundle.Verify(string(leaf.PEM), leaf.Sign(payload), payload)
	assert.ErrorIs(t, err, pki.ErrChainBroken)
}

func TestVerify_SignatureMismatch(t *testing.T) {
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)

	leaf, err := ca.Issue("node-alice", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	bundle := pki.NewBundle(ca.Pool())

	sig := leaf.Sign([]byte(`{"original":"payload"}`))
	_, err = bundle.Verify(string(leaf.PEM), sig, []byte(`{"tampered":"payload"}`))
	assert.ErrorIs(t, err, pki.ErrSignatureMismatch)
}

func TestVerify_GarbageChain(t *testing.T) {
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)

	bundle := pki.NewBundle(ca.Pool())
	_, err = bundle.Verify("not a pem block", "c2ln", []byte(`{}`))
	assert.ErrorIs(t, err, pki.ErrChainBroken)
}

func TestVerify_ConcurrentUse(t *testing.T) {
	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)
	leaf, err := ca.Issue("node-alice", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	bundle := pki.NewBundle(ca.Pool())
	payload := []byte(`{"k":"v"}`)
	sig := leaf.Sign(payload)

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			_, err := bundle.Verify(string(leaf.PEM), sig, payload)
			done <- err
		}()
	}
	for i := 0; i < 16; i++ {
		assert.NoError(t, <-done)
	}
}
