// Package sync merges the three event sources of an open conversation — the
// bulk history fetch, live push-channel events and confirmed local actions —
// into the message store. All writes to the store go through here, keyed by
// server message id, so a confirmed local send and its later channel echo
// converge to a single entry.
package sync

import (
	"context"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/identity"
	"github.com/charla-social/charla/internal/push"
	"github.com/charla-social/charla/internal/store"
	"go.uber.org/zap"
)

// EventKind names a remote mutation.
type EventKind string

const (
	MessageCreated  EventKind = "created"
	MessageUpdated  EventKind = "updated"
	MessageDeleted  EventKind = "deleted"
	ReactionChanged EventKind = "reactionChanged"

	// HistoryReplaced is only ever emitted on store.updated, after a
	// wholesale ApplyHistory.
	HistoryReplaced EventKind = "history"
)

// Event is one remote mutation to reconcile, regardless of whether it
// arrived as a push frame or a submission confirmation.
type Event struct {
	Kind           EventKind
	ConversationID string
	// Message is set for created/updated.
	Message *store.Message
	// MessageID is set for deleted/reactionChanged.
	MessageID string
	// Reactions is the full updated list for reactionChanged.
	Reactions []store.Reaction
}

// CacheWriter mirrors confirmed state into the offline cache. Failures are
// logged, never propagated: the cache is advisory.
type CacheWriter interface {
	SaveMessages(convID string, msgs []store.Message) error
	DeleteMessage(convID, msgID string) error
}

// Change is the payload of store.updated bus events.
type Change struct {
	ConversationID string
	Kind           EventKind
	MessageID      string
}

// Reconciler applies remote events to one conversation's store.
type Reconciler struct {
	convID string
	store  *store.MessageStore
	cache  CacheWriter
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewReconciler creates a reconciler for one conversation. cache may be nil.
func NewReconciler(convID string, st *store.MessageStore, cache CacheWriter, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		convID: convID,
		store:  st,
		cache:  cache,
		bus:    b,
		logger: logger.With(zap.String("conversation", convID)),
	}
}

// Start subscribes to push.* bus events and applies the ones addressed to
// this conversation. Events for other conversations — including stale
// callbacks from a view the user already left — are dropped.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("push.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handlePush(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes from the bus.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) handlePush(evt bus.Event) {
	in, ok := evt.Payload.(*push.Inbound)
	if !ok || in.ConversationID != r.convID {
		return
	}
	switch evt.Kind {
	case push.EventMessageCreated:
		r.ApplyRemoteEvent(Event{Kind: MessageCreated, ConversationID: in.ConversationID, Message: in.Message})
	case push.EventMessageUpdated:
		r.ApplyRemoteEvent(Event{Kind: MessageUpdated, ConversationID: in.ConversationID, Message: in.Message})
	case push.EventMessageDeleted:
		r.ApplyRemoteEvent(Event{Kind: MessageDeleted, ConversationID: in.ConversationID, MessageID: in.MessageID})
	case push.EventReactionChanged:
		r.ApplyRemoteEvent(Event{
			Kind:           ReactionChanged,
			ConversationID: in.ConversationID,
			MessageID:      in.MessageID,
			Reactions:      in.Reactions,
		})
	}
}

// ApplyHistory replaces the store wholesale with the fetched history. Also
// used to warm the store from the offline cache before the network answer
// lands.
func (r *Reconciler) ApplyHistory(msgs []store.Message) {
	normalized := make([]store.Message, len(msgs))
	for i, m := range msgs {
		normalized[i] = Normalize(m)
	}
	r.store.Reset(normalized)
	r.writeThrough(normalized)
	r.emit(Change{ConversationID: r.convID, Kind: HistoryReplaced})
	r.logger.Debug("history applied", zap.Int("messages", len(normalized)))
}

// ApplyRemoteEvent routes one remote mutation into the store. Events are
// applied in arrival order; for conflicting fields on the same message id the
// last confirmation wins. Events addressed to another conversation are
// dropped.
func (r *Reconciler) ApplyRemoteEvent(evt Event) {
	if evt.ConversationID != "" && evt.ConversationID != r.convID {
		return
	}

	switch evt.Kind {
	case MessageCreated, MessageUpdated:
		if evt.Message == nil || evt.Message.ID == "" {
			r.logger.Warn("dropping message event without id", zap.String("kind", string(evt.Kind)))
			return
		}
		m := Normalize(*evt.Message)
		inserted := r.store.Upsert(m)
		r.writeThrough([]store.Message{m})
		r.emit(Change{ConversationID: r.convID, Kind: evt.Kind, MessageID: m.ID})
		if !inserted {
			r.logger.Debug("message deduplicated by id", zap.String("msg_id", m.ID))
		}

	case MessageDeleted:
		if !r.store.Remove(evt.MessageID) {
			return // already gone, echo of a local delete
		}
		if r.cache != nil {
			if err := r.cache.DeleteMessage(r.convID, evt.MessageID); err != nil {
				r.logger.Warn("cache delete failed", zap.Error(err))
			}
		}
		r.emit(Change{ConversationID: r.convID, Kind: MessageDeleted, MessageID: evt.MessageID})

	case ReactionChanged:
		applied := r.store.Patch(evt.MessageID, func(m *store.Message) {
			m.Reactions = evt.Reactions
		})
		if !applied {
			return
		}
		if m, ok := r.store.Get(evt.MessageID); ok {
			r.writeThrough([]store.Message{m})
		}
		r.emit(Change{ConversationID: r.convID, Kind: ReactionChanged, MessageID: evt.MessageID})
	}
}

func (r *Reconciler) writeThrough(msgs []store.Message) {
	if r.cache == nil || len(msgs) == 0 {
		return
	}
	if err := r.cache.SaveMessages(r.convID, msgs); err != nil {
		r.logger.Warn("cache write failed", zap.Error(err))
	}
}

func (r *Reconciler) emit(c Change) {
	if r.bus != nil {
		r.bus.Emit("store.updated", c)
	}
}

// Normalize fills the optional fields heterogeneous server payloads omit, so
// placeholder handling lives here instead of scattered through render code.
func Normalize(m store.Message) store.Message {
	m.Author = normalizeIdentity(m.Author)

	reactions := make([]store.Reaction, len(m.Reactions))
	for i, rx := range m.Reactions {
		rx.User = normalizeIdentity(rx.User)
		reactions[i] = rx
	}
	m.Reactions = reactions

	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		ref.Author = normalizeIdentity(ref.Author)
		m.ReplyTo = &ref
	}
	if m.Attachments == nil {
		m.Attachments = []store.Attachment{}
	}
	return m
}

func normalizeIdentity(id store.Identity) store.Identity {
	if id.DisplayName == "" {
		id.DisplayName = identity.PlaceholderName
	}
	if id.AvatarURL == "" {
		id.AvatarURL = identity.PlaceholderAvatar
	}
	return id
}
