// Package engine is the client-side conversation engine: it opens
// conversations, merges the history fetch, push-channel events and confirmed
// local actions into each conversation's store, and gates every outbound
// payload through content moderation before submission.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/cache"
	"github.com/charla-social/charla/internal/config"
	"github.com/charla-social/charla/internal/identity"
	"github.com/charla-social/charla/internal/moderation"
	"github.com/charla-social/charla/internal/push"
	"github.com/charla-social/charla/internal/rest"
	"github.com/charla-social/charla/internal/session"
	"github.com/charla-social/charla/internal/store"
	intsync "github.com/charla-social/charla/internal/sync"
	"go.uber.org/zap"
)

// EventHistoryFailed is emitted when the initial history fetch fails.
// Payload is the conversation id. The conversation stays open: live events
// still apply, and a retry is safe because nothing was committed.
const EventHistoryFailed = "engine.history_failed"

var (
	// ErrEmptyMessage rejects a draft with no text and no attachments.
	ErrEmptyMessage = errors.New("message has no content")
	// ErrNotOwner rejects edit/delete of someone else's message.
	ErrNotOwner = errors.New("message belongs to another user")
	// ErrUnknownMessage rejects actions on a message id not in the store.
	ErrUnknownMessage = errors.New("message not found in conversation")
	// ErrClosed rejects actions on a conversation the user navigated away
	// from.
	ErrClosed = errors.New("conversation closed")
	// ErrAlreadyOpen rejects a second Open of the same conversation.
	ErrAlreadyOpen = errors.New("conversation already open")
)

// Engine creates and tracks open conversations. One engine per profile.
type Engine struct {
	cfg       *config.Config
	rest      *rest.Client
	gate      *moderation.Gate
	cache     *cache.DB
	creds     *identity.Store
	transport push.Transport
	bus       *bus.Bus
	logger    *zap.Logger

	mu   sync.Mutex
	open map[string]*Conversation
}

// New creates an engine. cacheDB may be nil (no offline warm-up).
func New(
	cfg *config.Config,
	restClient *rest.Client,
	gate *moderation.Gate,
	cacheDB *cache.DB,
	creds *identity.Store,
	transport push.Transport,
	b *bus.Bus,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		rest:      restClient,
		gate:      gate,
		cache:     cacheDB,
		creds:     creds,
		transport: transport,
		bus:       b,
		logger:    logger,
		open:      make(map[string]*Conversation),
	}
}

// Self returns the caller's own identity.
func (e *Engine) Self() store.Identity { return e.creds.Self() }

// Open mounts a conversation: warms its store from the offline cache,
// connects the push channel and starts the history fetch. A channel that
// cannot connect does not fail Open — the conversation comes up read-only
// with channel-dependent actions rejected until recovery.
func (e *Engine) Open(ctx context.Context, convID string) (*Conversation, error) {
	cctx, cancel := context.WithCancel(ctx)
	st := store.NewMessageStore()

	var cacheWriter intsync.CacheWriter
	if e.cache != nil {
		cacheWriter = e.cache
	}
	recon := intsync.NewReconciler(convID, st, cacheWriter, e.bus, e.logger)
	recon.Start(cctx)

	sess := session.New(convID, e.transport, e.bus, session.Options{
		MaxRetries: e.cfg.Channel.MaxRetries,
		Backoff:    e.cfg.Channel.Backoff.Std(),
	}, e.logger)

	c := &Conversation{
		id:     convID,
		engine: e,
		store:  st,
		recon:  recon,
		sess:   sess,
		ctx:    cctx,
		cancel: cancel,
	}

	e.mu.Lock()
	if _, exists := e.open[convID]; exists {
		e.mu.Unlock()
		recon.Stop()
		cancel()
		return nil, ErrAlreadyOpen
	}
	e.open[convID] = c
	e.mu.Unlock()

	c.warmFromCache()

	if err := sess.Open(cctx); err != nil {
		// Connectivity failure disables channel-dependent actions but
		// never the view itself; session.failed already went out on
		// the bus.
		e.logger.Warn("push channel unavailable on open",
			zap.String("conversation", convID), zap.Error(err))
	}

	go c.fetchHistory()
	return c, nil
}

// CloseAll tears down every open conversation.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	convs := make([]*Conversation, 0, len(e.open))
	for _, c := range e.open {
		convs = append(convs, c)
	}
	e.mu.Unlock()
	for _, c := range convs {
		c.Close()
	}
}

func (e *Engine) forget(convID string) {
	e.mu.Lock()
	delete(e.open, convID)
	e.mu.Unlock()
}
