// Package store defines the persistence interfaces consumed by the gateway.
// Everything here is best-effort from the gateway's perspective: failures are
// logged and the conversation continues.
package store

import (
	"context"
	"time"
)

// Customer is one WhatsApp contact known to the system.
type Customer struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message payload types: who produced the stored message.
const (
	MessageTypeHuman = "human"
	MessageTypeBot   = "bot"
)

// MessagePayload is the jsonb message shape stored in conversation history.
type MessagePayload struct {
	Type             string            `json:"type"` // MessageTypeHuman or MessageTypeBot
	Content          string            `json:"content"`
	AdditionalKwargs map[string]string `json:"additional_kwargs"`
	ResponseMetadata map[string]string `json:"response_metadata"`
}

// HistoryEntry is one row of conversation history.
type HistoryEntry struct {
	CustomerID string
	Message    MessagePayload
}

// Store persists customers and their conversation history.
type Store interface {
	// GetCustomer returns the customer for a phone, or ok=false if absent.
	GetCustomer(ctx context.Context, phone string) (Customer, bool, error)
	// CreateCustomer inserts a new customer and returns it.
	CreateCustomer(ctx context.Context, phone, username string) (Customer, error)
	// SaveMessage appends one entry to the conversation history.
	SaveMessage(ctx context.Context, entry HistoryEntry) error
	// Close releases the underlying connections.
	Close() error
}

// NewMessagePayload builds the canonical history payload for a message.
func NewMessagePayload(content string, fromBot bool) MessagePayload {
	typ := MessageTypeHuman
	if fromBot {
		typ = MessageTypeBot
	}
	return MessagePayload{
		Type:             typ,
		Content:          content,
		AdditionalKwargs: map[string]string{},
		ResponseMetadata: map[string]string{},
	}
}
