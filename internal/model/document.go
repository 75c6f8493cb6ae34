package model

import (
	"encoding/json"
	"time"
)

// DocumentKind classifies materialized entity documents.
type DocumentKind string

const (
	KindConversation DocumentKind = "conversation"
	KindMessage      DocumentKind = "message"
	KindContact      DocumentKind = "contact"
	KindProfile      DocumentKind = "profile"
)

// Document is the materialized state of one entity. Version increases
// by one on every successful write and backs the store's conditional
// writes; a stale writer loses and re-reads.
type Document struct {
	EntityID  string          `json:"entity_id"`
	Kind      DocumentKind    `json:"kind"`
	Body      json.RawMessage `json:"body"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Conversation is the body of a conversation document.
type Conversation struct {
	ConversationID string   `json:"conversation_id"`
	Name           string   `json:"name,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	State          string   `json:"state"`
	MessageCount   int64    `json:"message_count"`
	CreatedBy      string   `json:"created_by,omitempty"`
}

// MessageDoc is the body of a stored message document.
type MessageDoc struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	From           string    `json:"from"`
	To             []string  `json:"to,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	Deleted        bool      `json:"deleted"`
	SentAt         time.Time `json:"sent_at"`
}

// Contact is the body of a contact document.
type Contact struct {
	ContactID string   `json:"contact_id"`
	UserID    string   `json:"user_id"`
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	Deleted   bool     `json:"deleted"`
}

// Profile is the body of a user profile document.
type Profile struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Conversation document state values.
const (
	ConversationCreated = "created"
)
