package model

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"
)

// TransactionType identifies the state change a transaction carries.
type TransactionType string

const (
	TransactionCreateConversation TransactionType = "create_conversation"
	TransactionPostMessage        TransactionType = "post_message"
	TransactionReceiveMessage     TransactionType = "receive_message"
	TransactionMarkRead           TransactionType = "mark_read"
	TransactionUpdateContact      TransactionType = "update_contact"
	TransactionDeleteMessage      TransactionType = "delete_message"
	TransactionDeleteContact      TransactionType = "delete_contact"
	TransactionInitProfile        TransactionType = "init_profile"
)

// TxState is the lifecycle state of a transaction record.
// Unseen -> Pending -> Applied | Rejected; Applied and Rejected are terminal.
type TxState string

const (
	TxUnseen   TxState = "unseen"
	TxPending  TxState = "pending"
	TxApplied  TxState = "applied"
	TxRejected TxState = "rejected"
)

// Transaction is the atomic, idempotent unit of state change. Its ID is
// derived from content, so broker redelivery of the same message yields
// the same transaction and deduplicates downstream.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Producer  string          `json:"producer"`
}

// NewTransaction builds a transaction with a deterministic id over
// type, entity and payload. Timestamp and producer are informational
// and excluded from the id so redelivered messages dedup correctly.
func NewTransaction(txType TransactionType, entityID string, payload json.RawMessage, producer string) Transaction {
	return Transaction{
		ID:        DeriveTransactionID(txType, entityID, payload),
		Type:      txType,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Producer:  producer,
	}
}

// DeriveTransactionID hashes the identifying content of a transaction
// with BLAKE2b-256. The separator byte prevents ambiguity between the
// concatenated fields.
func DeriveTransactionID(txType TransactionType, entityID string, payload json.RawMessage) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(txType))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionRecord is the durable dedup record kept by the store.
type TransactionRecord struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	State     TxState         `json:"state"`
	Attempts  int             `json:"attempts"`
	Producer  string          `json:"producer"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	AppliedAt *time.Time      `json:"applied_at,omitempty"`
}
