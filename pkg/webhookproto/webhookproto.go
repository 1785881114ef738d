// Package webhookproto defines the inbound webhook wire envelope consumed
// by the Webhook Router (C11, spec.md §4.11, §6).
package webhookproto

import "encoding/json"

// Envelope is the top-level inbound webhook body: {event, data}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event tags recognized by the router (§4.11).
const (
	EventMessagesUpsert     = "messages.upsert"
	EventMessageSent        = "message.sent"
	EventMessageReceipt     = "message-receipt.update"
	EventMessagesUpdate     = "messages.update"
)

// MessagesUpsertData is the payload of an inbound-message event.
type MessagesUpsertData struct {
	Tenant           string `json:"tenant"`
	From             string `json:"from"`
	ChannelMessageID string `json:"channelMessageId"`
	Text             string `json:"text"`
	Timestamp        int64  `json:"timestamp"` // unix seconds
}

// MessageSentData reports an outbound message's accepted/sent transition.
type MessageSentData struct {
	Tenant           string `json:"tenant"`
	ChannelMessageID string `json:"channelMessageId"`
}

// MessageReceiptData reports a delivery-receipt update.
type MessageReceiptData struct {
	Tenant           string `json:"tenant"`
	ChannelMessageID string `json:"channelMessageId"`
	Status           string `json:"status"` // "delivered" | "read"
}

// Response is the HTTP response body for every webhook call (§6).
type Response struct {
	Status    string `json:"status"` // "success" | "ignored"
	EventType string `json:"event_type,omitempty"`
}
