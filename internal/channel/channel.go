package channel

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/config"
	"github.com/fbdash/fbdash/internal/status"
	"github.com/fbdash/fbdash/internal/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Checkpoints persists the catch-up cursor across reconnects and restarts.
// *store.DB satisfies it; nil is tolerated (degraded mode, no cursor).
type Checkpoints interface {
	SetCheckpoint(key, value string) error
	GetCheckpoint(key string) (string, error)
}

// Channel maintains the realtime websocket connection to the backend:
// unlimited reconnects with bounded backoff, a keep-alive heartbeat with
// staleness detection, an in-memory outbound FIFO flushed on reconnect, and
// one catch-up request per successful dial. Connection errors are never
// fatal; the dashboard stays usable in queue-only mode indefinitely.
type Channel struct {
	url         string
	cfg         config.ChannelConfig
	bus         *bus.Bus
	machine     *status.Machine
	checkpoints Checkpoints
	logger      *zap.Logger
	dialer      *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	outbox     []frame // buffered while disconnected, flushed in order
	foreground bool

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a channel for the given websocket URL.
func New(url string, cfg config.ChannelConfig, b *bus.Bus, m *status.Machine, cp Checkpoints, logger *zap.Logger) *Channel {
	return &Channel{
		url:         url,
		cfg:         cfg,
		bus:         b,
		machine:     m,
		checkpoints: cp,
		logger:      logger,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		foreground:  true,
		kick:        make(chan struct{}, 1),
	}
}

// Start launches the connect loop.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop tears the channel down and waits for the loop to exit.
func (c *Channel) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
}

// Emit sends an event to the backend, or buffers it in arrival order when
// the transport is down. Buffered frames are flushed immediately upon
// reconnection.
func (c *Channel) Emit(event string, data any) error {
	f, err := newFrame(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.outbox = append(c.outbox, f)
		c.mu.Unlock()
		c.logger.Debug("channel down, buffered outbound event", zap.String("event", event))
		return nil
	}
	err = conn.WriteJSON(f)
	c.mu.Unlock()
	return err
}

// Kick skips the remainder of the current backoff delay. Called by the
// connectivity monitor when the platform reports online.
func (c *Channel) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// ForceReconnect drops the current connection, triggering a fresh dial
// cycle. Used when a backgrounded session may have gone silently stale.
func (c *Channel) ForceReconnect() {
	c.logger.Info("forcing channel reconnect")
	c.closeConn()
	c.Kick()
}

// Verify checks that the connection is actually alive: a ping is written
// through the transport, and a write failure tears the session down so the
// dial loop starts over. With no connection it just skips the backoff.
// Backgrounded tabs go stale without ever firing a disconnect event, so a
// passive check is not enough here.
func (c *Channel) Verify() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.Kick()
		return
	}
	f, _ := newFrame(eventPing, nil)
	c.mu.Lock()
	err := conn.WriteJSON(f)
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("liveness ping failed, reconnecting", zap.Error(err))
		c.ForceReconnect()
	}
}

// SetForeground tells the channel whether the application is visible. The
// heartbeat only runs while foregrounded; a backgrounded session also stops
// enforcing the staleness deadline, since silence is expected.
func (c *Channel) SetForeground(fg bool) {
	c.mu.Lock()
	c.foreground = fg
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		if fg {
			_ = conn.SetReadDeadline(time.Now().Add(c.staleAfter()))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
}

func (c *Channel) staleAfter() time.Duration {
	return c.cfg.Heartbeat() + c.cfg.Grace()
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}

		attempt := c.machine.RecordAttempt()
		_ = c.machine.Transition(status.Connecting)

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			_ = c.machine.Transition(status.Disconnected)
			delay := c.backoff(attempt)
			c.logger.Warn("channel dial failed",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		c.session(ctx, conn)

		_ = c.machine.Transition(status.Disconnected)
		c.bus.Publish(bus.Event{Kind: bus.KindChannelDisconnected})
		if ctx.Err() != nil {
			return
		}
		if !c.sleep(ctx, c.backoff(1)) {
			return
		}
	}
}

// session runs one connected episode until the transport fails or goes
// stale. It owns the catch-up request and the outbox flush.
func (c *Channel) session(ctx context.Context, conn *websocket.Conn) {
	_ = c.machine.Transition(status.Connected)
	c.logger.Info("channel connected", zap.String("url", c.url))

	c.mu.Lock()
	c.conn = conn
	fg := c.foreground
	// The catch-up request goes out ahead of anything buffered, so the
	// backend replays the disconnection window before fresh traffic.
	pending := append([]frame{c.catchupFrame()}, c.outbox...)
	c.outbox = nil
	c.mu.Unlock()

	if fg {
		_ = conn.SetReadDeadline(time.Now().Add(c.staleAfter()))
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.staleAfter()))
	})

	c.bus.Publish(bus.Event{Kind: bus.KindChannelConnected})

	for _, f := range pending {
		c.mu.Lock()
		err := conn.WriteJSON(f)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("flush of buffered event failed", zap.String("event", f.Event), zap.Error(err))
			c.closeConn()
			return
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeat(hbCtx, conn)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.logger.Warn("channel stale: no traffic within heartbeat grace window")
				c.bus.Publish(bus.Event{Kind: bus.KindChannelStale})
			} else if ctx.Err() == nil {
				c.logger.Warn("channel read failed", zap.Error(err))
			}
			c.closeConn()
			return
		}
		if c.isForeground() {
			_ = conn.SetReadDeadline(time.Now().Add(c.staleAfter()))
		}
		c.handleFrame(f)
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.isForeground() {
				continue
			}
			f, _ := newFrame(eventPing, nil)
			c.mu.Lock()
			err := conn.WriteJSON(f)
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("heartbeat write failed", zap.Error(err))
				c.closeConn()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) handleFrame(f frame) {
	switch f.Event {
	case eventPong:
		// Deadline already refreshed by the read itself.
	case eventNewMessage:
		p, err := decodeMessagePayload(f.Data)
		if err != nil {
			c.logger.Warn("dropping malformed new_message frame", zap.Error(err))
			return
		}
		c.advanceCheckpoint(p.Timestamp)
		c.bus.Publish(bus.Event{
			Kind: bus.KindInboundMessage,
			Payload: bus.InboundMessage{
				ConversationID: p.CustomerID,
				CustomerName:   p.CustomerName,
				MessageID:      p.MessageID,
				Body:           p.Message,
				SentAt:         p.sentAt(),
			},
		})
	case eventMessageSent:
		p, err := decodeMessagePayload(f.Data)
		if err != nil {
			c.logger.Warn("dropping malformed message_sent frame", zap.Error(err))
			return
		}
		c.advanceCheckpoint(p.Timestamp)
		c.bus.Publish(bus.Event{
			Kind: bus.KindSendConfirmed,
			Payload: bus.SendConfirmed{
				ConversationID: p.CustomerID,
				MessageID:      p.MessageID,
				ClientID:       p.ClientID,
				Body:           p.Message,
				SentAt:         p.sentAt(),
			},
		})
	default:
		c.logger.Debug("ignoring unknown channel event", zap.String("event", f.Event))
	}
}

func (c *Channel) catchupFrame() frame {
	var since int64
	if c.checkpoints != nil {
		if v, err := c.checkpoints.GetCheckpoint(store.CheckpointLastEvent); err == nil && v != "" {
			since, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	f, _ := newFrame(eventMissedMessages, catchupPayload{Since: since})
	return f
}

func (c *Channel) advanceCheckpoint(ts int64) {
	if c.checkpoints == nil || ts == 0 {
		return
	}
	if err := c.checkpoints.SetCheckpoint(store.CheckpointLastEvent, strconv.FormatInt(ts, 10)); err != nil {
		c.logger.Warn("failed to persist catch-up cursor", zap.Error(err))
	}
}

// backoff returns the delay before the given attempt: doubling from the
// initial delay, capped at the configured maximum, with a little jitter.
// The cap keeps recovery quick; a chat tool wants reconnects in seconds.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffInitial()
	for i := 1; i < attempt && d < c.cfg.BackoffMax(); i++ {
		d *= 2
	}
	if d > c.cfg.BackoffMax() {
		d = c.cfg.BackoffMax()
	}
	return d + time.Duration(rand.Int63n(int64(250*time.Millisecond)))
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.kick:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) isForeground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground
}

func (c *Channel) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}
