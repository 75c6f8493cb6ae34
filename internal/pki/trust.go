// Package pki loads the process trust chain and verifies message
// signers against it. The bundle is immutable after startup and safe
// for concurrent use from every handling path.
package pki

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/courriel-systems/messagerie/internal/model"
)

var (
	// ErrChainBroken means the presented chain does not terminate at
	// the configured root authority.
	ErrChainBroken = errors.New("certificate chain does not terminate at trusted root")

	// ErrExpired means a certificate in the chain is outside its
	// validity window at verification time.
	ErrExpired = errors.New("certificate outside validity window")

	// ErrSignatureMismatch means the signature does not validate
	// against the payload using the leaf public key.
	ErrSignatureMismatch = errors.New("signature does not match payload")
)

// Bundle holds the root of trust plus the node's own credentials.
// Loaded once at startup; rotation requires a restart.
type Bundle struct {
	roots    *x509.CertPool
	nodeCert tls.Certificate
	caFile   string
	certFile string
	keyFile  string

	// now is overridable in tests to exercise expiry handling.
	now func() time.Time
}

// Load reads the root certificate, node certificate, and node private
// key. Any unreadable or malformed input is a startup failure; the
// caller is expected to exit non-zero.
func Load(caFile, certFile, keyFile string) (*Bundle, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read root certificate %s: %w", caFile, err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse root certificate %s: no certificates found", caFile)
	}

	nodeCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load node keypair: %w", err)
	}

	return &Bundle{
		roots:    roots,
		nodeCert: nodeCert,
		caFile:   caFile,
		certFile: certFile,
		keyFile:  keyFile,
		now:      time.Now,
	}, nil
}

// NewBundle builds a bundle from an in-memory root pool. Used by tests
// and by callers that manage PEM material themselves.
func NewBundle(roots *x509.CertPool) *Bundle {
	return &Bundle{roots: roots, now: time.Now}
}

// Verify checks that chainPEM terminates at the configured root, that
// every certificate is within its validity window, and that signature
// (base64 ed25519) validates the payload against the leaf key.
// Returns the signer identity on success. All failures reject the
// message only; none are fatal to the process.
func (b *Bundle) Verify(chainPEM, signature string, payload []byte) (model.Identity, error) {
	certs, err := parseChain(chainPEM)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrChainBroken, err)
	}

	now := b.now()
	for _, cert := range certs {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return model.Identity{}, fmt.Errorf("%w: %s", ErrExpired, cert.Subject.CommonName)
		}
	}

	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         b.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		var invalid x509.CertificateInvalidError
		if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
			return model.Identity{}, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return model.Identity{}, fmt.Errorf("%w: %v", ErrChainBroken, err)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: invalid encoding", ErrSignatureMismatch)
	}

	pub, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: leaf key is not ed25519", ErrSignatureMismatch)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return model.Identity{}, ErrSignatureMismatch
	}

	identity := model.Identity{
		CommonName: leaf.Subject.CommonName,
		NotAfter:   leaf.NotAfter,
	}
	if len(leaf.Subject.Organization) > 0 {
		identity.Organization = leaf.Subject.Organization[0]
	}
	return identity, nil
}

// TLSConfig builds the mutually-authenticated TLS configuration used
// for the broker connection.
func (b *Bundle) TLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:      b.roots,
		Certificates: []tls.Certificate{b.nodeCert},
		MinVersion:   tls.VersionTLS12,
	}
}

// Files returns the PKI file paths the bundle was loaded from.
func (b *Bundle) Files() (ca, cert, key string) {
	return b.caFile, b.certFile, b.keyFile
}

func parseChain(chainPEM string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(chainPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates in chain")
	}
	return certs, nil
}
