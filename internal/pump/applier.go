package pump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/courriel-systems/messagerie/internal/model"
	"github.com/courriel-systems/messagerie/internal/store"
)

// ErrSchemaViolation marks a transaction that can never apply: wrong
// shape, unknown type, or an impossible target. These take the
// dead-letter path instead of retrying.
var ErrSchemaViolation = errors.New("transaction schema violation")

// casAttempts bounds the read-modify-write loop when a conditional
// write loses a race.
const casAttempts = 5

// applyFunc mutates entity state for one transaction. Every applier is
// written to be safely re-runnable: resuming a transaction left Pending
// by a crash re-executes it without double effect.
type applyFunc func(ctx context.Context, s store.Store, tx model.Transaction) error

func appliers() map[model.TransactionType]applyFunc {
	return map[model.TransactionType]applyFunc{
		model.TransactionCreateConversation: applyCreateConversation,
		model.TransactionPostMessage:        applyStoreMessage,
		model.TransactionReceiveMessage:     applyStoreMessage,
		model.TransactionMarkRead:           applyMarkRead,
		model.TransactionDeleteMessage:      applyDeleteMessage,
		model.TransactionUpdateContact:      applyUpdateContact,
		model.TransactionDeleteContact:      applyDeleteContact,
		model.TransactionInitProfile:        applyInitProfile,
	}
}

func decodeTx(tx model.Transaction, out any) error {
	if err := json.Unmarshal(tx.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

func applyCreateConversation(ctx context.Context, s store.Store, tx model.Transaction) error {
	var p struct {
		ConversationID string   `json:"conversation_id"`
		Name           string   `json:"name"`
		Participants   []string `json:"participants"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation_id", ErrSchemaViolation)
	}

	body, _ := json.Marshal(model.Conversation{
		ConversationID: p.ConversationID,
		Name:           p.Name,
		Participants:   p.Participants,
		State:          model.ConversationCreated,
		CreatedBy:      tx.Producer,
	})
	doc := &model.Document{EntityID: tx.EntityID, Kind: model.KindConversation, Body: body}

	err := s.PutDocument(ctx, doc, 0)
	if errors.Is(err, store.ErrVersionConflict) {
		// Already created; re-run is a no-op.
		return nil
	}
	return err
}

func applyStoreMessage(ctx context.Context, s store.Store, tx model.Transaction) error {
	var p struct {
		MessageID      string   `json:"message_id"`
		ConversationID string   `json:"conversation_id"`
		From           string   `json:"from"`
		To             []string `json:"to"`
		Subject        string   `json:"subject"`
		Content        string   `json:"content"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.MessageID == "" || p.ConversationID == "" {
		return fmt.Errorf("%w: missing message_id or conversation_id", ErrSchemaViolation)
	}

	from := p.From
	if from == "" {
		from = tx.Producer
	}
	body, _ := json.Marshal(model.MessageDoc{
		MessageID:      p.MessageID,
		ConversationID: p.ConversationID,
		From:           from,
		To:             p.To,
		Subject:        p.Subject,
		Content:        p.Content,
		SentAt:         timestampOrNow(tx.Timestamp),
	})
	doc := &model.Document{EntityID: tx.EntityID, Kind: model.KindMessage, Body: body}

	err := s.PutDocument(ctx, doc, 0)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil
	}
	return err
}

func applyMarkRead(ctx context.Context, s store.Store, tx model.Transaction) error {
	return mutateMessage(ctx, s, tx, func(msg *model.MessageDoc) { msg.Read = true })
}

func applyDeleteMessage(ctx context.Context, s store.Store, tx model.Transaction) error {
	err := mutateMessage(ctx, s, tx, func(msg *model.MessageDoc) { msg.Deleted = true })
	if errors.Is(err, store.ErrNotFound) {
		// Deleting what is already gone is a no-op.
		return nil
	}
	return err
}

// mutateMessage applies a read-modify-write on a message document with
// a bounded CAS loop.
func mutateMessage(ctx context.Context, s store.Store, tx model.Transaction, mutate func(*model.MessageDoc)) error {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing target id", ErrSchemaViolation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		doc, err := s.GetDocument(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Both sentinels are kept in the chain: delete treats a
			// missing target as a no-op, mark-read as permanent.
			return fmt.Errorf("%w: target %s missing: %w", ErrSchemaViolation, p.ID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if doc.Kind != model.KindMessage {
			return fmt.Errorf("%w: %s is not a message", ErrSchemaViolation, p.ID)
		}

		var msg model.MessageDoc
		if err := json.Unmarshal(doc.Body, &msg); err != nil {
			return fmt.Errorf("%w: stored body undecodable: %v", ErrSchemaViolation, err)
		}
		mutate(&msg)

		doc.Body, _ = json.Marshal(msg)
		err = s.PutDocument(ctx, doc, doc.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return store.ErrVersionConflict
}

func applyUpdateContact(ctx context.Context, s store.Store, tx model.Transaction) error {
	var p struct {
		ContactID string   `json:"contact_id"`
		UserID    string   `json:"user_id"`
		Name      string   `json:"name"`
		Addresses []string `json:"addresses"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.ContactID == "" || p.UserID == "" {
		return fmt.Errorf("%w: missing contact_id or user_id", ErrSchemaViolation)
	}

	body, _ := json.Marshal(model.Contact{
		ContactID: p.ContactID,
		UserID:    p.UserID,
		Name:      p.Name,
		Addresses: p.Addresses,
	})

	for attempt := 0; attempt < casAttempts; attempt++ {
		existing, err := s.GetDocument(ctx, tx.EntityID)
		if errors.Is(err, store.ErrNotFound) {
			doc := &model.Document{EntityID: tx.EntityID, Kind: model.KindContact, Body: body}
			err = s.PutDocument(ctx, doc, 0)
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		existing.Body = body
		err = s.PutDocument(ctx, existing, existing.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return store.ErrVersionConflict
}

func applyDeleteContact(ctx context.Context, s store.Store, tx model.Transaction) error {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing target id", ErrSchemaViolation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		doc, err := s.GetDocument(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if doc.Kind != model.KindContact {
			return fmt.Errorf("%w: %s is not a contact", ErrSchemaViolation, p.ID)
		}

		var contact model.Contact
		if err := json.Unmarshal(doc.Body, &contact); err != nil {
			return fmt.Errorf("%w: stored body undecodable: %v", ErrSchemaViolation, err)
		}
		contact.Deleted = true

		doc.Body, _ = json.Marshal(contact)
		err = s.PutDocument(ctx, doc, doc.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return store.ErrVersionConflict
}

func applyInitProfile(ctx context.Context, s store.Store, tx model.Transaction) error {
	var p struct {
		UserID  string `json:"user_id"`
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := decodeTx(tx, &p); err != nil {
		return err
	}
	if p.UserID == "" || p.Address == "" {
		return fmt.Errorf("%w: missing user_id or address", ErrSchemaViolation)
	}

	body, _ := json.Marshal(model.Profile{
		UserID:  p.UserID,
		Name:    p.Name,
		Address: p.Address,
	})
	doc := &model.Document{EntityID: tx.EntityID, Kind: model.KindProfile, Body: body}

	err := s.PutDocument(ctx, doc, 0)
	if errors.Is(err, store.ErrVersionConflict) {
		// Profile initialization is first-write-wins.
		return nil
	}
	return err
}

// timestampOrNow guards against zero timestamps on transactions that
// arrived from the broker without one.
func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
