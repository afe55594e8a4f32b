package bus

import "time"

// Event is a domain event published on the bus.
//
// Kind is a dot-separated name whose leading segments form the namespace
// subscribers filter on. Kinds used by the engine:
//
//	push.*     inbound push-channel events (message_created, message_updated,
//	           message_deleted, reaction_changed, connected, disconnected)
//	session.*  conversation session lifecycle (state_changed, failed)
//	store.*    local message store mutations (updated)
//	engine.*   conversation-level failures (history_failed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
