package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/courriel-systems/messagerie/internal/model"
)

// Event subjects published after successful transaction application.
const (
	EventNewMessage      = "new_message"
	EventMessageRead     = "message_read"
	EventMessagesDeleted = "messages_deleted"
	EventContactUpdated  = "contact_updated"
	EventContactsDeleted = "contacts_deleted"
	EventConversation    = "conversation_created"
	EventProfileCreated  = "profile_created"
)

// AppliedEvent is the outbound notification for an applied transaction.
type AppliedEvent struct {
	TransactionID string                `json:"transaction_id"`
	Type          model.TransactionType `json:"type"`
	EntityID      string                `json:"entity_id"`
	Producer      string                `json:"producer"`
	AppliedAt     time.Time             `json:"applied_at"`
}

// Rejection is the notification sent when a message is refused, so
// asynchronous submitters can distinguish rejection from success.
type Rejection struct {
	CorrelationID string    `json:"correlation_id"`
	Action        string    `json:"action,omitempty"`
	Reason        string    `json:"reason"`
	Detail        string    `json:"detail,omitempty"`
	RejectedAt    time.Time `json:"rejected_at"`
}

// Publisher emits outbound domain events and rejection notifications.
type Publisher struct {
	client *JetStreamClient
}

// NewPublisher ensures the events stream exists.
func NewPublisher(ctx context.Context, client *JetStreamClient) (*Publisher, error) {
	if _, err := client.CreateOrUpdateStream(ctx, EventsStream); err != nil {
		return nil, fmt.Errorf("create events stream: %w", err)
	}
	return &Publisher{client: client}, nil
}

// PublishApplied emits the domain event for an applied transaction.
func (p *Publisher) PublishApplied(ctx context.Context, tx model.Transaction) error {
	event := AppliedEvent{
		TransactionID: tx.ID,
		Type:          tx.Type,
		EntityID:      tx.EntityID,
		Producer:      tx.Producer,
		AppliedAt:     time.Now().UTC(),
	}
	subject := fmt.Sprintf("%s.%s", SubjectEventBase, eventName(tx.Type))
	return p.client.PublishJSON(ctx, subject, event)
}

// PublishRejection notifies the submitter that its message was refused.
func (p *Publisher) PublishRejection(ctx context.Context, r Rejection) error {
	r.RejectedAt = time.Now().UTC()
	subject := fmt.Sprintf("%s.%s", SubjectRejectionBase, r.Reason)
	return p.client.PublishJSON(ctx, subject, r)
}

func eventName(txType model.TransactionType) string {
	switch txType {
	case model.TransactionCreateConversation:
		return EventConversation
	case model.TransactionPostMessage, model.TransactionReceiveMessage:
		return EventNewMessage
	case model.TransactionMarkRead:
		return EventMessageRead
	case model.TransactionDeleteMessage:
		return EventMessagesDeleted
	case model.TransactionUpdateContact:
		return EventContactUpdated
	case model.TransactionDeleteContact:
		return EventContactsDeleted
	case model.TransactionInitProfile:
		return EventProfileCreated
	default:
		return string(txType)
	}
}
