package push

import (
	"encoding/json"

	"github.com/charla-social/charla/internal/store"
)

// Frame types — client → server.
const (
	FrameJoin  = "conversation.join"
	FrameLeave = "conversation.leave"
)

// Frame types — server → client.
const (
	FrameMessageCreated  = "message.created"
	FrameMessageUpdated  = "message.updated"
	FrameMessageDeleted  = "message.deleted"
	FrameReactionChanged = "reaction.changed"
)

// Envelope is the wire shape of every push-channel frame.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TS             int64           `json:"ts,omitempty"`
}

// DeletedPayload carries a message deletion.
type DeletedPayload struct {
	MessageID string `json:"message_id"`
}

// ReactionPayload carries a message's full updated reaction list.
type ReactionPayload struct {
	MessageID string           `json:"message_id"`
	Reactions []store.Reaction `json:"reactions"`
}

// Bus event kinds the channel publishes. Payloads are *Inbound.
const (
	EventMessageCreated  = "push.message_created"
	EventMessageUpdated  = "push.message_updated"
	EventMessageDeleted  = "push.message_deleted"
	EventReactionChanged = "push.reaction_changed"
	EventConnected       = "push.connected"
	EventDisconnected    = "push.disconnected"
)

// Inbound is a decoded server frame as published on the bus.
type Inbound struct {
	ConversationID string
	Message        *store.Message
	MessageID      string
	Reactions      []store.Reaction
}
