package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent     = "component"
	FieldEntityID      = "entity_id"
	FieldTransactionID = "transaction_id"
	FieldAction        = "action"
	FieldSubject       = "subject"
	FieldCorrelationID = "correlation_id"
	FieldIdentity      = "identity"
	FieldAttempt       = "attempt"
	FieldReason        = "reason"
	FieldError         = "error"
	FieldService       = "service"
	FieldNode          = "node"
	FieldPort          = "port"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Node returns a slog attribute for the node id.
func Node(id string) slog.Attr {
	return slog.String(FieldNode, id)
}

// Port returns a slog attribute for a listen port.
func Port(port int) slog.Attr {
	return slog.Int(FieldPort, port)
}

// Component returns a slog attribute for the component name
// (requetes, pompe_messages, commandes, transactions).
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// EntityID returns a slog attribute for the target entity id.
func EntityID(id string) slog.Attr {
	return slog.String(FieldEntityID, id)
}

// TransactionID returns a slog attribute for the transaction id.
func TransactionID(id string) slog.Attr {
	return slog.String(FieldTransactionID, id)
}

// Action returns a slog attribute for the command action type.
func Action(action string) slog.Attr {
	return slog.String(FieldAction, action)
}

// Subject returns a slog attribute for the broker subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// CorrelationID returns a slog attribute for the message correlation id.
func CorrelationID(id string) slog.Attr {
	return slog.String(FieldCorrelationID, id)
}

// Identity returns a slog attribute for the verified signer identity.
func Identity(name string) slog.Attr {
	return slog.String(FieldIdentity, name)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Reason returns a slog attribute for a rejection reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
