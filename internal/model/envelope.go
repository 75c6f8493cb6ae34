// Package model defines the wire and storage types shared by the
// command, pump, and query paths.
package model

import (
	"encoding/json"
	"time"
)

// Envelope is a raw signed message as delivered by the broker.
// It is immutable once received; the payload bytes are the exact bytes
// the signer covered with the signature.
type Envelope struct {
	// CorrelationID ties rejection notifications and outbound events
	// back to the originating request.
	CorrelationID string `json:"correlation_id"`

	// Action is the declared command action type.
	Action string `json:"action"`

	// Payload carries the action-specific body. Kept as raw bytes so
	// signature verification and transaction id derivation operate on
	// exactly what was signed.
	Payload json.RawMessage `json:"payload"`

	// CertificateChain is the PEM-encoded signing chain, leaf first.
	CertificateChain string `json:"certificate_chain"`

	// Signature is the base64-encoded ed25519 signature over Payload.
	Signature string `json:"signature"`
}

// Valid reports whether the envelope carries the minimum structure
// required to even attempt verification.
func (e *Envelope) Valid() bool {
	return e.Action != "" && len(e.Payload) > 0 && e.CertificateChain != "" && e.Signature != ""
}

// Identity is the verified signer of a message, extracted from the
// leaf certificate after the trust chain checks out.
type Identity struct {
	CommonName   string    `json:"common_name"`
	Organization string    `json:"organization,omitempty"`
	NotAfter     time.Time `json:"not_after"`
}

// Command is a typed, authorized request derived from an Envelope.
// It exists only between trust verification and transaction derivation.
type Command struct {
	Action        string
	EntityID      string
	Issuer        Identity
	CorrelationID string
	Payload       json.RawMessage
}
