package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/courriel-systems/messagerie/internal/model"
)

// Action names accepted on the command path.
const (
	ActionCreateConversation = "create_conversation"
	ActionPostMessage        = "post_message"
	ActionReceiveMessage     = "receive_message"
	ActionMarkRead           = "mark_read"
	ActionUpdateContact      = "update_contact"
	ActionDeleteMessages     = "delete_messages"
	ActionDeleteContacts     = "delete_contacts"
	ActionInitProfile        = "init_profile"
)

// Action payloads. Validation tags are enforced before any transaction
// is derived, so a payload that decodes but fails validation never
// reaches the pump.

type CreateConversationPayload struct {
	ConversationID string   `json:"conversation_id" validate:"required"`
	Name           string   `json:"name,omitempty"`
	Participants   []string `json:"participants,omitempty"`
}

type PostMessagePayload struct {
	MessageID      string   `json:"message_id" validate:"required"`
	ConversationID string   `json:"conversation_id" validate:"required"`
	To             []string `json:"to,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	Content        string   `json:"content" validate:"required"`
}

type ReceiveMessagePayload struct {
	MessageID      string `json:"message_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
	From           string `json:"from" validate:"required"`
	Subject        string `json:"subject,omitempty"`
	Content        string `json:"content" validate:"required"`
}

type MarkReadPayload struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

type UpdateContactPayload struct {
	ContactID string   `json:"contact_id" validate:"required"`
	UserID    string   `json:"user_id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	Addresses []string `json:"addresses,omitempty"`
}

type DeleteMessagesPayload struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

type DeleteContactsPayload struct {
	ContactIDs []string `json:"contact_ids" validate:"required,min=1,dive,required"`
}

type InitProfilePayload struct {
	UserID  string `json:"user_id" validate:"required"`
	Address string `json:"address" validate:"required"`
	Name    string `json:"name,omitempty"`
}

// deriver converts a validated command into its transactions. Derived
// ids depend only on content, so broker redelivery of the same message
// produces identical transactions.
type deriver func(h *Handler, cmd *model.Command) ([]model.Transaction, error)

func (h *Handler) derivers() map[string]deriver {
	return map[string]deriver{
		ActionCreateConversation: deriveSingle[CreateConversationPayload](model.TransactionCreateConversation, func(p *CreateConversationPayload) string { return p.ConversationID }),
		ActionPostMessage:        deriveSingle[PostMessagePayload](model.TransactionPostMessage, func(p *PostMessagePayload) string { return p.MessageID }),
		ActionReceiveMessage:     deriveSingle[ReceiveMessagePayload](model.TransactionReceiveMessage, func(p *ReceiveMessagePayload) string { return p.MessageID }),
		ActionUpdateContact:      deriveSingle[UpdateContactPayload](model.TransactionUpdateContact, func(p *UpdateContactPayload) string { return p.ContactID }),
		ActionInitProfile:        deriveSingle[InitProfilePayload](model.TransactionInitProfile, func(p *InitProfilePayload) string { return p.UserID }),
		ActionMarkRead: func(h *Handler, cmd *model.Command) ([]model.Transaction, error) {
			var p MarkReadPayload
			if err := h.decode(cmd.Payload, &p); err != nil {
				return nil, err
			}
			return perMessage(model.TransactionMarkRead, p.MessageIDs, cmd.Issuer.CommonName), nil
		},
		ActionDeleteMessages: func(h *Handler, cmd *model.Command) ([]model.Transaction, error) {
			var p DeleteMessagesPayload
			if err := h.decode(cmd.Payload, &p); err != nil {
				return nil, err
			}
			return perMessage(model.TransactionDeleteMessage, p.MessageIDs, cmd.Issuer.CommonName), nil
		},
		ActionDeleteContacts: func(h *Handler, cmd *model.Command) ([]model.Transaction, error) {
			var p DeleteContactsPayload
			if err := h.decode(cmd.Payload, &p); err != nil {
				return nil, err
			}
			return perMessage(model.TransactionDeleteContact, p.ContactIDs, cmd.Issuer.CommonName), nil
		},
	}
}

// deriveSingle builds a deriver for actions that target exactly one
// entity and carry the envelope payload through unchanged.
func deriveSingle[P any](txType model.TransactionType, entityOf func(*P) string) deriver {
	return func(h *Handler, cmd *model.Command) ([]model.Transaction, error) {
		p := new(P)
		if err := h.decode(cmd.Payload, p); err != nil {
			return nil, err
		}
		tx := model.NewTransaction(txType, entityOf(p), cmd.Payload, cmd.Issuer.CommonName)
		return []model.Transaction{tx}, nil
	}
}

// perMessage fans a batch action out to one transaction per target
// entity so unrelated entities keep applying concurrently.
func perMessage(txType model.TransactionType, ids []string, producer string) []model.Transaction {
	txs := make([]model.Transaction, 0, len(ids))
	for _, id := range ids {
		payload, _ := json.Marshal(map[string]string{"id": id})
		txs = append(txs, model.NewTransaction(txType, id, payload, producer))
	}
	return txs
}

func (h *Handler) decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if err := h.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	return nil
}

// stamp is applied to derived transactions so batches share one
// timestamp. Informational only; excluded from the transaction id.
func stamp(txs []model.Transaction, at time.Time) {
	for i := range txs {
		txs[i].Timestamp = at
	}
}
