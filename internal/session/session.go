// Package session owns one push-channel subscription per open conversation:
// connect, join the room, reconnect on transport error with fixed backoff,
// and tear down when the user navigates away. While not Joined, actions that
// need the channel are rejected instead of silently dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/push"
	"go.uber.org/zap"
)

// ErrNotConnected rejects channel-dependent actions while the session is not
// Joined.
var ErrNotConnected = errors.New("conversation channel not connected")

// EventFailed is emitted when reconnection attempts are exhausted. Payload
// is the conversation id.
const EventFailed = "session.failed"

// Options tune the reconnect behavior.
type Options struct {
	// MaxRetries bounds reconnection attempts after a transport error.
	MaxRetries int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

// DefaultOptions returns the reconnect settings used when none are given.
func DefaultOptions() Options {
	return Options{MaxRetries: 5, Backoff: 2 * time.Second}
}

// Session is one conversation's push-channel subscription lifecycle.
type Session struct {
	convID    string
	transport push.Transport
	machine   *Machine
	bus       *bus.Bus
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	conn   push.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session for the conversation. Open must be called to
// connect.
func New(convID string, tr push.Transport, b *bus.Bus, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	return &Session{
		convID:    convID,
		transport: tr,
		machine:   NewMachine(convID, b),
		bus:       b,
		opts:      opts,
		logger:    logger.With(zap.String("conversation", convID)),
	}
}

// ConversationID returns the conversation this session serves.
func (s *Session) ConversationID() string { return s.convID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.machine.Current() }

// Guard returns ErrNotConnected unless the session is Joined. Callers check
// it before any action that must reach the channel.
func (s *Session) Guard() error {
	if s.machine.Current() != Joined {
		return ErrNotConnected
	}
	return nil
}

// Open connects, joins the conversation room and starts the read loop.
// The initial connection gets the same bounded retry budget as a mid-session
// drop; on exhaustion the session ends Disconnected and the error is
// returned.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already open")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.machine.Transition(Connecting); err != nil {
		return err
	}

	conn, err := s.connect(runCtx)
	if err != nil {
		_ = s.machine.Transition(Disconnected)
		s.bus.Emit(EventFailed, s.convID)
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		return err
	}
	s.setConn(conn)
	if err := s.machine.Transition(Joined); err != nil {
		return err
	}

	go s.run(runCtx)
	return nil
}

// Teardown closes the channel and releases the session. Safe to call from
// any state and more than once.
func (s *Session) Teardown() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	if s.machine.Current() != Disconnected {
		_ = s.machine.Transition(Disconnected)
	}
}

// run drives the read loop and the reconnect cycle until teardown or retry
// exhaustion.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		conn := s.currentConn()
		if conn == nil {
			return
		}

		err := conn.ReadLoop(ctx)
		if err == nil || ctx.Err() != nil {
			// Clean teardown.
			return
		}

		s.logger.Warn("push channel dropped", zap.Error(err))
		_ = conn.Close()
		if terr := s.machine.Transition(Reconnecting); terr != nil {
			return
		}

		next, cerr := s.connect(ctx)
		if cerr != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("reconnection attempts exhausted", zap.Error(cerr))
			_ = s.machine.Transition(Disconnected)
			s.bus.Emit(EventFailed, s.convID)
			return
		}
		s.setConn(next)
		if terr := s.machine.Transition(Joined); terr != nil {
			_ = next.Close()
			return
		}
		s.logger.Info("push channel rejoined")
	}
}

// connect dials and joins with the configured retry budget and fixed
// backoff. It drives the machine through Connecting on each attempt when
// coming from Reconnecting.
func (s *Session) connect(ctx context.Context) (push.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.opts.Backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.machine.Current() == Reconnecting {
			if err := s.machine.Transition(Connecting); err != nil {
				return nil, err
			}
		}

		conn, err := s.transport.Dial(ctx)
		if err == nil {
			if err = conn.Join(ctx, s.convID); err == nil {
				return conn, nil
			}
			_ = conn.Close()
		}
		lastErr = err
		s.logger.Warn("push channel connect failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max", s.opts.MaxRetries),
			zap.Error(err))
		if s.machine.Current() == Connecting && attempt+1 < s.opts.MaxRetries {
			_ = s.machine.Transition(Reconnecting)
		}
	}
	return nil, fmt.Errorf("connect push channel after %d attempts: %w", s.opts.MaxRetries, lastErr)
}

func (s *Session) setConn(conn push.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) currentConn() push.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
