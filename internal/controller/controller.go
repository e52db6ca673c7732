package controller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend is the slice of the REST client the controller drives.
type Backend interface {
	ListConversations(ctx context.Context) ([]backend.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]backend.Message, error)
	SendMessage(ctx context.Context, conversationID string, req backend.SendRequest) (*backend.SendResult, error)
}

// Connectivity is the can-send signal plus visibility forwarding.
type Connectivity interface {
	CanSend() bool
	SetVisible(visible bool)
}

// Notifier receives inbound messages and focus state.
type Notifier interface {
	Notify(conversationID, title, body string)
	SetFocused(conversationID string)
	SetVisible(visible bool)
	SetMuted(muted bool)
	Muted() bool
}

// Mirror is the local conversations fallback. *store.DB satisfies it; nil
// disables the fallback (degraded storage mode).
type Mirror interface {
	ReplaceConversations(convs []store.Conversation) error
	ListConversations() ([]store.Conversation, error)
}

// ConversationView is a conversation summary plus its session unread flag.
type ConversationView struct {
	backend.Conversation
	Unread bool `json:"unread"`
}

// SendOutcome reports how a send was handled: delivered directly, or parked
// in the durable queue for the flush agent.
type SendOutcome struct {
	Queued    bool   `json:"queued"`
	QueueID   int64  `json:"queue_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ClientID  string `json:"client_id"`
}

// Controller is the dashboard's decision layer: it owns the focused
// conversation, the open thread, and the session unread set, and routes
// every send through the queue-or-direct decision. It holds no rendering
// state; the gateway serializes its snapshots for whatever UI is attached.
type Controller struct {
	backend  Backend
	queue    store.Queue
	monitor  Connectivity
	notifier Notifier
	mirror   Mirror
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	thread thread
	unread map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a controller.
func New(be Backend, q store.Queue, mon Connectivity, n Notifier, mirror Mirror, b *bus.Bus, logger *zap.Logger) *Controller {
	return &Controller{
		backend:  be,
		queue:    q,
		monitor:  mon,
		notifier: n,
		mirror:   mirror,
		bus:      b,
		logger:   logger,
		unread:   make(map[string]bool),
	}
}

// Start subscribes to message events and begins routing them.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	events, unsub := c.bus.Subscribe("message.", 256)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				c.route(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops event routing.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Controller) route(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboundMessage:
		p, ok := evt.Payload.(bus.InboundMessage)
		if !ok {
			return
		}
		c.onInbound(p)
	case bus.KindSendConfirmed:
		p, ok := evt.Payload.(bus.SendConfirmed)
		if !ok {
			return
		}
		c.onConfirmed(p)
	case bus.KindSendFailed:
		p, ok := evt.Payload.(bus.SendFailed)
		if !ok {
			return
		}
		c.onFailed(p)
	}
}

func (c *Controller) onInbound(p bus.InboundMessage) {
	c.mu.Lock()
	if c.thread.conversationID == p.ConversationID {
		c.thread.append(ThreadMessage{
			ID:     p.MessageID,
			Sender: p.CustomerName,
			Body:   p.Body,
			SentAt: p.SentAt,
		})
		c.mu.Unlock()
	} else {
		already := c.unread[p.ConversationID]
		c.unread[p.ConversationID] = true
		c.mu.Unlock()
		if !already {
			c.bus.Publish(bus.Event{
				Kind:    bus.KindUnreadChanged,
				Payload: bus.UnreadChange{ConversationID: p.ConversationID, Unread: true},
			})
		}
	}

	title := p.CustomerName
	if title == "" {
		title = "New message"
	}
	c.notifier.Notify(p.ConversationID, title, p.Body)
}

func (c *Controller) onConfirmed(p bus.SendConfirmed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread.conversationID != p.ConversationID {
		return
	}
	c.thread.append(ThreadMessage{
		ID:       p.MessageID,
		ClientID: p.ClientID,
		Body:     p.Body,
		FromMe:   true,
		SentAt:   p.SentAt,
	})
}

func (c *Controller) onFailed(p bus.SendFailed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread.conversationID != p.ConversationID {
		return
	}
	if !c.thread.fail(p.QueueID, p.Reason) {
		c.logger.Debug("send failure for message not in open thread",
			zap.Int64("queue_id", p.QueueID))
	}
}

// Conversations returns the conversation list, live when possible. A failed
// live fetch falls back to the local mirror so the dashboard still renders
// while offline.
func (c *Controller) Conversations(ctx context.Context) ([]ConversationView, error) {
	convs, err := c.backend.ListConversations(ctx)
	if err != nil {
		c.logger.Warn("live conversation fetch failed, using mirror", zap.Error(err))
		return c.mirrorConversations(err)
	}
	if c.mirror != nil {
		mirrored := make([]store.Conversation, len(convs))
		for i, v := range convs {
			mirrored[i] = store.Conversation{
				ID:            v.ID,
				Name:          v.Name,
				LastMessage:   v.LastMessage,
				LastMessageAt: v.LastMessageAt,
				Labels:        v.Labels,
				AvatarURL:     v.AvatarURL,
			}
		}
		if err := c.mirror.ReplaceConversations(mirrored); err != nil {
			c.logger.Warn("failed to refresh conversation mirror", zap.Error(err))
		}
	}
	return c.sorted(convs), nil
}

func (c *Controller) mirrorConversations(fetchErr error) ([]ConversationView, error) {
	if c.mirror == nil {
		return nil, fetchErr
	}
	mirrored, err := c.mirror.ListConversations()
	if err != nil {
		return nil, errors.Join(fetchErr, err)
	}
	convs := make([]backend.Conversation, len(mirrored))
	for i, v := range mirrored {
		convs[i] = backend.Conversation{
			ID:            v.ID,
			Name:          v.Name,
			LastMessage:   v.LastMessage,
			LastMessageAt: v.LastMessageAt,
			Labels:        v.Labels,
			AvatarURL:     v.AvatarURL,
		}
	}
	return c.sorted(convs), nil
}

// sorted orders unread conversations first, most recent activity first
// within each group.
func (c *Controller) sorted(convs []backend.Conversation) []ConversationView {
	c.mu.Lock()
	views := make([]ConversationView, len(convs))
	for i, v := range convs {
		views[i] = ConversationView{Conversation: v, Unread: c.unread[v.ID]}
	}
	c.mu.Unlock()

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Unread != views[j].Unread {
			return views[i].Unread
		}
		return views[i].LastMessageAt > views[j].LastMessageAt
	})
	return views
}

// SelectConversation focuses a conversation: its unread flag clears, the
// notifier stops popping for it, and the thread is reloaded from the
// backend's authoritative history with this conversation's still-queued
// messages appended as pending entries.
func (c *Controller) SelectConversation(ctx context.Context, conversationID string) ([]ThreadMessage, error) {
	c.mu.Lock()
	wasUnread := c.unread[conversationID]
	delete(c.unread, conversationID)
	c.mu.Unlock()

	c.notifier.SetFocused(conversationID)
	if wasUnread {
		c.bus.Publish(bus.Event{
			Kind:    bus.KindUnreadChanged,
			Payload: bus.UnreadChange{ConversationID: conversationID, Unread: false},
		})
	}

	history, err := c.backend.GetMessages(ctx, conversationID, 0)
	if err != nil {
		// Keep the focus change; the thread just has nothing authoritative.
		c.mu.Lock()
		c.thread.reset(conversationID, c.queuedFor(conversationID))
		snap := c.thread.snapshot()
		c.mu.Unlock()
		return snap, err
	}

	msgs := make([]ThreadMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ThreadMessage{
			ID:     m.ID,
			Sender: m.Sender,
			Body:   m.Body,
			FromMe: m.FromMe,
			SentAt: time.UnixMilli(m.Timestamp),
		})
	}

	c.mu.Lock()
	c.thread.reset(conversationID, msgs)
	for _, queued := range c.queuedFor(conversationID) {
		c.thread.append(queued)
	}
	snap := c.thread.snapshot()
	c.mu.Unlock()
	return snap, nil
}

// queuedFor returns this conversation's still-pending queue entries as
// optimistic thread messages. Caller holds c.mu or tolerates staleness.
func (c *Controller) queuedFor(conversationID string) []ThreadMessage {
	pending, err := c.queue.ListPending()
	if err != nil {
		c.logger.Warn("failed to read pending queue for thread", zap.Error(err))
		return nil
	}
	var out []ThreadMessage
	for _, m := range pending {
		if m.ConversationID != conversationID {
			continue
		}
		out = append(out, ThreadMessage{
			QueueID:  m.ID,
			ClientID: m.ClientID,
			Body:     m.Body,
			FromMe:   true,
			SentAt:   time.UnixMilli(m.CreatedAt),
			Pending:  true,
		})
	}
	return out
}

// SendMessage sends a message now when connectivity allows, and otherwise
// parks it in the durable queue. A network failure during the direct attempt
// also falls back to the queue; a definitive backend rejection is returned
// to the caller and never queued.
func (c *Controller) SendMessage(ctx context.Context, conversationID, body string, translate bool) (*SendOutcome, error) {
	if c.monitor.CanSend() {
		clientID := uuid.NewString()
		res, err := c.backend.SendMessage(ctx, conversationID, backend.SendRequest{
			Message:   body,
			Translate: translate,
			ClientID:  clientID,
		})
		switch {
		case err == nil:
			sentAt := time.Now()
			if res.Timestamp > 0 {
				sentAt = time.UnixMilli(res.Timestamp)
			}
			c.appendOwn(conversationID, ThreadMessage{
				ID:       res.MessageID,
				ClientID: clientID,
				Body:     body,
				FromMe:   true,
				SentAt:   sentAt,
			})
			return &SendOutcome{MessageID: res.MessageID, ClientID: clientID}, nil
		case errors.Is(err, backend.ErrNetworkUnreachable):
			c.logger.Info("direct send hit network failure, queueing",
				zap.String("conversation", conversationID))
		default:
			return nil, err
		}
	}

	id, err := c.queue.Enqueue(conversationID, body, translate)
	if err != nil {
		return nil, err
	}
	c.appendOwn(conversationID, ThreadMessage{
		QueueID: id,
		Body:    body,
		FromMe:  true,
		SentAt:  time.Now(),
		Pending: true,
	})
	return &SendOutcome{Queued: true, QueueID: id}, nil
}

func (c *Controller) appendOwn(conversationID string, m ThreadMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread.conversationID == conversationID {
		c.thread.append(m)
	}
}

// Thread returns a snapshot of the open conversation's messages.
func (c *Controller) Thread() (string, []ThreadMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread.conversationID, c.thread.snapshot()
}

// Unread returns the conversations currently flagged unread.
func (c *Controller) Unread() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.unread))
	for id := range c.unread {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Visibility forwards the UI's visibility state to the connectivity monitor
// and the notifier.
func (c *Controller) Visibility(visible bool) {
	c.monitor.SetVisible(visible)
	c.notifier.SetVisible(visible)
}

// SetMuted forwards the mute flag to the notifier.
func (c *Controller) SetMuted(muted bool) {
	c.notifier.SetMuted(muted)
}

// Muted reports the notifier's mute flag.
func (c *Controller) Muted() bool {
	return c.notifier.Muted()
}
