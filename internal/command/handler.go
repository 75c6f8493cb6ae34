// Package command converts signed broker messages into transactions.
// It owns authorization (via the trust verifier) and the polymorphic
// action dispatch; it never touches the document store itself.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/model"
)

var (
	// ErrUnsupportedAction means the declared action type is unknown.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrMalformedAction means the payload failed decoding or
	// validation for its declared action type.
	ErrMalformedAction = errors.New("malformed action payload")
)

// TrustVerifier is the predicate the handler authorizes messages with.
type TrustVerifier interface {
	Verify(chainPEM, signature string, payload []byte) (model.Identity, error)
}

// Handler derives transactions from signed envelopes.
type Handler struct {
	verifier TrustVerifier
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates a command handler bound to a trust verifier.
func NewHandler(verifier TrustVerifier, logger *logging.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(logging.Component("commandes")),
	}
}

// Handle authorizes and parses an envelope, returning the transactions
// it implies. Trust failures reject without side effects; redelivery of
// the same envelope yields transactions with identical ids.
func (h *Handler) Handle(ctx context.Context, env *model.Envelope) ([]model.Transaction, error) {
	if env == nil || !env.Valid() {
		return nil, fmt.Errorf("%w: incomplete envelope", ErrMalformedAction)
	}

	identity, err := h.verifier.Verify(env.CertificateChain, env.Signature, env.Payload)
	if err != nil {
		h.logger.WarnContext(ctx, "message rejected by trust verification",
			logging.Action(env.Action),
			logging.CorrelationID(env.CorrelationID),
			logging.Error(err),
		)
		return nil, err
	}

	derive, ok := h.derivers()[env.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, env.Action)
	}

	cmd := &model.Command{
		Action:        env.Action,
		Issuer:        identity,
		CorrelationID: env.CorrelationID,
		Payload:       env.Payload,
	}

	txs, err := derive(h, cmd)
	if err != nil {
		return nil, err
	}
	stamp(txs, time.Now().UTC())

	h.logger.DebugContext(ctx, "command accepted",
		logging.Action(env.Action),
		logging.Identity(identity.CommonName),
		logging.CorrelationID(env.CorrelationID),
	)
	return txs, nil
}
