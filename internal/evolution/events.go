// Package evolution talks to an Evolution API instance: a websocket for
// real-time WhatsApp events and REST endpoints for sending messages,
// presence updates, and profile lookups.
package evolution

import (
	"strings"

	"github.com/evogatehq/evogate/internal/bus"
)

const userJIDSuffix = "s.whatsapp.net"

// EventMessagesUpsert is the websocket event carrying new messages.
const EventMessagesUpsert = "messages.upsert"

// Event is the envelope for a websocket event.
type Event struct {
	Event string      `json:"event"`
	Data  MessageData `json:"data"`
}

// MessageData mirrors the Evolution API message payload.
type MessageData struct {
	Key      MessageKey     `json:"key"`
	PushName string         `json:"pushName,omitempty"`
	Message  MessageContent `json:"message"`
}

// MessageKey identifies a message and its chat.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageContent holds the supported message body variants.
type MessageContent struct {
	Conversation string `json:"conversation,omitempty"`
	// ExtendedTextMessage carries text for replies/link previews.
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
}

// ExtendedText is the text variant used for quoted replies.
type ExtendedText struct {
	Text string `json:"text"`
}

// Text returns the message text regardless of variant.
func (m MessageContent) Text() string {
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

// Phone extracts the sender phone from the remoteJid, or "" if the JID is
// not an individual WhatsApp user (groups, broadcast lists, newsletters).
func (k MessageKey) Phone() string {
	at := strings.IndexByte(k.RemoteJID, '@')
	if at < 0 || k.RemoteJID[at+1:] != userJIDSuffix {
		return ""
	}
	return k.RemoteJID[:at]
}

// ToInbound converts a message event to the gateway's inbound shape.
// Returns ok=false for events that are not individual user text messages.
func (e Event) ToInbound() (bus.InboundMessage, bool) {
	phone := e.Data.Key.Phone()
	if phone == "" {
		return bus.InboundMessage{}, false
	}
	return bus.InboundMessage{
		Phone:     phone,
		Content:   e.Data.Message.Text(),
		PushName:  e.Data.PushName,
		MessageID: e.Data.Key.ID,
		FromMe:    e.Data.Key.FromMe,
	}, true
}
