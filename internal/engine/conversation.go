package engine

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"

	"github.com/charla-social/charla/internal/moderation"
	"github.com/charla-social/charla/internal/reaction"
	"github.com/charla-social/charla/internal/reply"
	"github.com/charla-social/charla/internal/rest"
	"github.com/charla-social/charla/internal/store"
	intsync "github.com/charla-social/charla/internal/sync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Draft is a locally composed message. ReplyTarget, when set, is the id of
// the message being replied to; it must be present in the conversation.
type Draft struct {
	Text        string
	Attachments []store.Attachment
	ReplyTarget string
}

// Conversation is an open, live-synced conversation. All mutations go
// through the server first; the local store only ever holds confirmed state.
type Conversation struct {
	id     string
	engine *Engine
	store  *store.MessageStore
	recon  *intsync.Reconciler
	sess   pushSession
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	metaMu stdsync.RWMutex
	meta   store.Conversation
}

// pushSession is the subset of session.Session the conversation uses. Kept
// as an interface so tests can script channel states directly.
type pushSession interface {
	Guard() error
	Teardown()
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Messages returns the current ordered view of the conversation.
func (c *Conversation) Messages() []store.Message { return c.store.List() }

// Message returns a single message by id.
func (c *Conversation) Message(id string) (store.Message, bool) {
	return c.store.Get(id)
}

// Meta returns the conversation metadata known so far. Empty until either
// the cache warm-up or the history fetch fills it.
func (c *Conversation) Meta() store.Conversation {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.meta
}

func (c *Conversation) setMeta(meta store.Conversation) {
	c.metaMu.Lock()
	c.meta = meta
	c.metaMu.Unlock()
}

// Send moderates and submits a new message. On acceptance the confirmed
// message is merged into the store and returned; a later push echo of the
// same id is a no-op.
func (c *Conversation) Send(ctx context.Context, d Draft) (store.Message, error) {
	if c.closed.Load() {
		return store.Message{}, ErrClosed
	}
	if d.Text == "" && len(d.Attachments) == 0 {
		return store.Message{}, ErrEmptyMessage
	}
	if err := c.sess.Guard(); err != nil {
		return store.Message{}, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.moderate(callCtx, d); err != nil {
		return store.Message{}, err
	}

	wire := rest.Draft{
		Text:        d.Text,
		Attachments: d.Attachments,
		ClientKey:   uuid.NewString(),
	}
	if d.ReplyTarget != "" {
		if _, ok := c.store.Get(d.ReplyTarget); !ok {
			return store.Message{}, ErrUnknownMessage
		}
		target := d.ReplyTarget
		wire.ReplyTo = &target
	}

	msg, err := c.engine.rest.CreateMessage(callCtx, c.id, wire)
	if err != nil {
		return store.Message{}, fmt.Errorf("send message: %w", err)
	}
	c.confirm(intsync.Event{Kind: intsync.MessageCreated, ConversationID: c.id, Message: &msg})
	return msg, nil
}

// Edit moderates and submits a replacement body for one of the caller's own
// messages.
func (c *Conversation) Edit(ctx context.Context, msgID string, d Draft) (store.Message, error) {
	if c.closed.Load() {
		return store.Message{}, ErrClosed
	}
	if d.Text == "" && len(d.Attachments) == 0 {
		return store.Message{}, ErrEmptyMessage
	}
	existing, ok := c.store.Get(msgID)
	if !ok {
		return store.Message{}, ErrUnknownMessage
	}
	if !c.engine.creds.Owns(existing) {
		return store.Message{}, ErrNotOwner
	}
	if err := c.sess.Guard(); err != nil {
		return store.Message{}, err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.moderate(callCtx, d); err != nil {
		return store.Message{}, err
	}

	msg, err := c.engine.rest.EditMessage(callCtx, c.id, msgID, rest.Draft{
		Text:        d.Text,
		Attachments: d.Attachments,
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("edit message: %w", err)
	}
	c.confirm(intsync.Event{Kind: intsync.MessageUpdated, ConversationID: c.id, Message: &msg})
	return msg, nil
}

// Delete removes one of the caller's own messages.
func (c *Conversation) Delete(ctx context.Context, msgID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	existing, ok := c.store.Get(msgID)
	if !ok {
		return ErrUnknownMessage
	}
	if !c.engine.creds.Owns(existing) {
		return ErrNotOwner
	}
	if err := c.sess.Guard(); err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.engine.rest.DeleteMessage(callCtx, c.id, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	c.confirm(intsync.Event{Kind: intsync.MessageDeleted, ConversationID: c.id, MessageID: msgID})
	return nil
}

// React adds the caller's reaction to a message. Reacting again with the
// same emoji is idempotent server-side.
func (c *Conversation) React(ctx context.Context, msgID, emoji string) error {
	return c.changeReaction(ctx, msgID, emoji, c.engine.rest.AddReaction)
}

// Unreact removes the caller's reaction from a message.
func (c *Conversation) Unreact(ctx context.Context, msgID, emoji string) error {
	return c.changeReaction(ctx, msgID, emoji, c.engine.rest.RemoveReaction)
}

func (c *Conversation) changeReaction(
	ctx context.Context,
	msgID, emoji string,
	call func(context.Context, string, string, string) ([]store.Reaction, error),
) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if _, ok := c.store.Get(msgID); !ok {
		return ErrUnknownMessage
	}
	if err := c.sess.Guard(); err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	reactions, err := call(callCtx, c.id, msgID, emoji)
	if err != nil {
		return fmt.Errorf("change reaction: %w", err)
	}
	c.confirm(intsync.Event{
		Kind:           intsync.ReactionChanged,
		ConversationID: c.id,
		MessageID:      msgID,
		Reactions:      reactions,
	})
	return nil
}

// ReactionGroups returns the message's reactions aggregated per emoji, in
// first-seen order, for rendering.
func (c *Conversation) ReactionGroups(msgID string) ([]reaction.Group, error) {
	msg, ok := c.store.Get(msgID)
	if !ok {
		return nil, ErrUnknownMessage
	}
	return reaction.GroupByEmoji(msg.Reactions), nil
}

// ComposeReply captures the denormalized snapshot of a reply target for the
// composer preview. The snapshot stays valid even if the target is later
// edited or deleted.
func (c *Conversation) ComposeReply(targetID string) (store.ReplyReference, error) {
	target, ok := c.store.Get(targetID)
	if !ok {
		return store.ReplyReference{}, ErrUnknownMessage
	}
	return reply.BuildReference(target), nil
}

// ResolveReply resolves a reply reference against the live conversation,
// falling back to its snapshot when the target is gone.
func (c *Conversation) ResolveReply(ref store.ReplyReference) reply.Resolution {
	return reply.Resolve(ref, c.store)
}

// Close tears the conversation down: push channel, reconciler, and any
// in-flight callbacks are all discarded. Idempotent.
func (c *Conversation) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.sess.Teardown()
	c.recon.Stop()
	c.cancel()
	c.engine.forget(c.id)
}

// confirm merges a confirmed server response into the store, unless the
// conversation was closed while the call was in flight. A confirmation for a
// discarded view must never touch its store.
func (c *Conversation) confirm(ev intsync.Event) {
	if c.closed.Load() {
		return
	}
	c.recon.ApplyRemoteEvent(ev)
}

func (c *Conversation) moderate(ctx context.Context, d Draft) error {
	verdict := c.engine.gate.Evaluate(ctx, moderation.Candidate{
		Text:        d.Text,
		Attachments: d.Attachments,
	})
	if !verdict.Accepted() {
		return &moderation.RejectionError{Verdict: verdict}
	}
	return nil
}

func (c *Conversation) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := c.engine.cfg.API.CallTimeout.Std(); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (c *Conversation) warmFromCache() {
	db := c.engine.cache
	if db == nil {
		return
	}
	if meta, err := db.LoadConversation(c.id); err != nil {
		c.engine.logger.Warn("cache conversation load failed",
			zap.String("conversation", c.id), zap.Error(err))
	} else if meta != nil {
		c.setMeta(*meta)
	}
	msgs, err := db.LoadMessages(c.id)
	if err != nil {
		c.engine.logger.Warn("cache message load failed",
			zap.String("conversation", c.id), zap.Error(err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	c.recon.ApplyHistory(msgs)
	c.engine.logger.Debug("store warmed from cache",
		zap.String("conversation", c.id), zap.Int("messages", len(msgs)))
}

func (c *Conversation) fetchHistory() {
	callCtx, cancel := c.callContext(c.ctx)
	defer cancel()

	page, err := c.engine.rest.FetchConversation(callCtx, c.id)
	if err != nil {
		c.engine.logger.Error("history fetch failed",
			zap.String("conversation", c.id), zap.Error(err))
		c.engine.bus.Emit(EventHistoryFailed, c.id)
		return
	}
	if c.closed.Load() {
		return
	}
	c.setMeta(page.Conversation)
	c.recon.ApplyHistory(page.Messages)
	if db := c.engine.cache; db != nil {
		if err := db.SaveConversation(page.Conversation); err != nil {
			c.engine.logger.Warn("cache conversation save failed",
				zap.String("conversation", c.id), zap.Error(err))
		}
	}
}
