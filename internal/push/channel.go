// Package push is the client side of the persistent push channel: one
// websocket per open conversation, joined to the conversation's room, with
// inbound frames decoded and republished on the in-process bus.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/store"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Conn is one live push-channel connection. The conversation session owns
// its lifecycle.
type Conn interface {
	// Join subscribes the connection to a conversation room.
	Join(ctx context.Context, convID string) error
	// ReadLoop decodes inbound frames and publishes them on the bus until
	// the connection fails or ctx is canceled. The returned error is the
	// transport failure (nil on clean ctx cancellation).
	ReadLoop(ctx context.Context) error
	Close() error
}

// Transport dials push-channel connections. The session depends on this
// interface so reconnection can be tested without a network.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketTransport dials the real push service.
type WebsocketTransport struct {
	url    string
	token  string
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTransport creates a websocket transport for the push service at url,
// authenticating with the bearer token.
func NewTransport(url, token string, b *bus.Bus, logger *zap.Logger) *WebsocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketTransport{url: url, token: token, bus: b, logger: logger}
}

// Dial opens a websocket to the push service.
func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	ws, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	return &Channel{conn: ws, bus: t.bus, logger: t.logger}, nil
}

// Channel is a live websocket connection to the push service.
type Channel struct {
	conn   *websocket.Conn
	bus    *bus.Bus
	logger *zap.Logger
	joined string
}

// Join sends the room-join frame for the conversation.
func (c *Channel) Join(ctx context.Context, convID string) error {
	env := Envelope{Type: FrameJoin, ConversationID: convID}
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("join conversation %s: %w", convID, err)
	}
	c.joined = convID
	return nil
}

// ReadLoop reads frames until the connection drops or ctx is canceled.
func (c *Channel) ReadLoop(ctx context.Context) error {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read push frame: %w", err)
		}
		c.dispatch(env)
	}
}

// Close sends a best-effort room-leave frame and closes the websocket.
func (c *Channel) Close() error {
	if c.joined != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = wsjson.Write(ctx, c.conn, Envelope{Type: FrameLeave, ConversationID: c.joined})
		cancel()
	}
	return c.conn.Close(websocket.StatusNormalClosure, "teardown")
}

func (c *Channel) dispatch(env Envelope) {
	switch env.Type {
	case FrameMessageCreated, FrameMessageUpdated:
		var msg store.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.logger.Warn("malformed message frame", zap.String("type", env.Type), zap.Error(err))
			return
		}
		kind := EventMessageCreated
		if env.Type == FrameMessageUpdated {
			kind = EventMessageUpdated
		}
		c.bus.Emit(kind, &Inbound{ConversationID: env.ConversationID, Message: &msg})

	case FrameMessageDeleted:
		var p DeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("malformed deletion frame", zap.Error(err))
			return
		}
		c.bus.Emit(EventMessageDeleted, &Inbound{ConversationID: env.ConversationID, MessageID: p.MessageID})

	case FrameReactionChanged:
		var p ReactionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("malformed reaction frame", zap.Error(err))
			return
		}
		c.bus.Emit(EventReactionChanged, &Inbound{
			ConversationID: env.ConversationID,
			MessageID:      p.MessageID,
			Reactions:      p.Reactions,
		})

	default:
		c.logger.Debug("unknown push frame dropped", zap.String("type", env.Type))
	}
}
