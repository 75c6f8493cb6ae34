package pki_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courriel-systems/messagerie/internal/pki"
	"github.com/courriel-systems/messagerie/internal/pki/pkitest"
)

func writePKIFiles(t *testing.T) (caFile, certFile, keyFile string) {
	t.Helper()

	ca, err := pkitest.NewAuthority("test-root")
	require.NoError(t, err)
	leaf, err := ca.Issue("node-1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	keyPEM, err := leaf.KeyPEM()
	require.NoError(t, err)

	dir := t.TempDir()
	caFile = filepath.Join(dir, "ca.pem")
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(caFile, ca.PEM, 0o600))
	require.NoError(t, os.WriteFile(certFile, leaf.PEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return caFile, certFile, keyFile
}

func TestLoad(t *testing.T) {
	caFile, certFile, keyFile := writePKIFiles(t)

	bundle, err := pki.Load(caFile, certFile, keyFile)
	require.NoError(t, err)

	tlsCfg := bundle.TLSConfig()
	assert.NotNil(t, tlsCfg.RootCAs)
	assert.Len(t, tlsCfg.Certificates, 1)
}

func TestLoad_MissingRoot(t *testing.T) {
	_, certFile, keyFile := writePKIFiles(t)

	_, err := pki.Load(filepath.Join(t.TempDir(), "absent.pem"), certFile, keyFile)
	assert.Error(t, err)
}

func TestLoad_MalformedRoot(t *testing.T) {
	_, certFile, keyFile := writePKIFiles(t)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))

	_, err := pki.Load(bad, certFile, keyFile)
	assert.Error(t, err)
}

func TestLoad_KeyMismatch(t *testing.T) {
	caFile, certFile, _ := writePKIFiles(t)
	_, _, otherKey := writePKIFiles(t)

	_, err := pki.Load(caFile, certFile, otherKey)
	assert.Error(t, err)
}
