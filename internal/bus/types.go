package bus

// InboundMessage is a user message received from the Evolution API websocket.
type InboundMessage struct {
	Phone     string `json:"phone"`
	Content   string `json:"content"`
	PushName  string `json:"push_name,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	FromMe    bool   `json:"from_me,omitempty"`
}

// OutboundMessage is a reply to be delivered back over WhatsApp.
type OutboundMessage struct {
	Phone   string `json:"phone"`
	Content string `json:"content"`
}
