package flush

import (
	"context"
	"errors"
	"time"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/store"
	"go.uber.org/zap"
)

// Sender is the backend send surface the agent drains into.
type Sender interface {
	SendMessage(ctx context.Context, conversationID string, req backend.SendRequest) (*backend.SendResult, error)
}

// Agent drains the persisted queue whenever connectivity comes back. It
// runs detached from the dashboard controller and holds no UI state: the
// queue store is its only input, so it works even when no view is attached.
// Retries are connectivity-gated rather than timed; the reconnect events
// that trigger a drain are themselves rate-limited by the channel backoff.
type Agent struct {
	queue  store.Queue
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAgent creates a flush agent.
func NewAgent(q store.Queue, sender Sender, b *bus.Bus, logger *zap.Logger) *Agent {
	return &Agent{
		queue:  q,
		sender: sender,
		bus:    b,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start subscribes to flush triggers and launches the drain worker.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	events, unsub := a.bus.Subscribe("", 256)

	go func() {
		defer close(a.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				switch evt.Kind {
				case bus.KindQueueEnqueued, bus.KindChannelConnected, bus.KindConnectivityOnline:
					a.trigger()
				}
			case <-a.wake:
				a.Flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the agent.
func (a *Agent) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// trigger coalesces wake-ups: a trigger during a drain schedules exactly
// one follow-up pass.
func (a *Agent) trigger() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Flush runs one drain pass: every pending message, oldest first. Safe to
// call concurrently with the worker: MarkSent is idempotent and a retried
// send is at-least-once by contract, so overlapping passes cannot corrupt
// the queue.
func (a *Agent) Flush(ctx context.Context) {
	pending, err := a.queue.ListPending()
	if err != nil {
		a.logger.Error("failed to read pending queue", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	a.logger.Info("draining pending queue", zap.Int("count", len(pending)))

	sent := 0
	for _, msg := range pending {
		res, err := a.sender.SendMessage(ctx, msg.ConversationID, backend.SendRequest{
			Message:   msg.Body,
			Translate: msg.Translate,
			ClientID:  msg.ClientID,
		})
		if err != nil {
			var rejected *backend.RejectedError
			switch {
			case errors.As(err, &rejected):
				// Definitive: never retried, surfaced on this message.
				a.logger.Warn("backend rejected queued message",
					zap.Int64("id", msg.ID), zap.Int("status", rejected.Status))
				if err := a.queue.MarkFailed(msg.ID, rejected.Body); err != nil {
					a.logger.Error("failed to mark rejected message", zap.Error(err))
				}
				a.bus.Publish(bus.Event{
					Kind: bus.KindSendFailed,
					Payload: bus.SendFailed{
						ConversationID: msg.ConversationID,
						QueueID:        msg.ID,
						Reason:         rejected.Body,
					},
				})
				continue
			case errors.Is(err, backend.ErrNetworkUnreachable):
				// Connectivity is gone again; the rest of the queue
				// stays pending, in order, for the next trigger.
				a.logger.Warn("network lost mid-flush, stopping pass",
					zap.Int64("id", msg.ID), zap.Int("sent", sent))
				return
			default:
				a.logger.Error("flush send failed", zap.Int64("id", msg.ID), zap.Error(err))
				return
			}
		}

		if err := a.queue.MarkSent(msg.ID); err != nil {
			a.logger.Error("failed to remove sent message", zap.Int64("id", msg.ID), zap.Error(err))
		}
		sent++
		a.logger.Info("queued message delivered",
			zap.Int64("id", msg.ID),
			zap.String("conversation", msg.ConversationID),
			zap.String("server_msg_id", res.MessageID))
	}

	remaining, _ := a.queue.CountPending()
	a.bus.Publish(bus.Event{
		Kind:    bus.KindQueueDrained,
		Payload: bus.QueueChange{Remaining: remaining},
	})
}

// PushPayload is the push notification body delivered by the platform when
// the dashboard is not running.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
	Data  struct {
		CustomerID string `json:"customerId"`
		URL        string `json:"url"`
		Timestamp  int64  `json:"timestamp"`
	} `json:"data"`
}

// OnPushReceived handles a push event: the message it announces is
// republished as an inbound event (so the notifier and any attached view
// react), and a drain is scheduled since a push implies connectivity.
func (a *Agent) OnPushReceived(p PushPayload) {
	sentAt := time.Now()
	if p.Data.Timestamp > 0 {
		sentAt = time.UnixMilli(p.Data.Timestamp)
	}
	a.bus.Publish(bus.Event{
		Kind: bus.KindInboundMessage,
		Payload: bus.InboundMessage{
			ConversationID: p.Data.CustomerID,
			CustomerName:   p.Title,
			Body:           p.Body,
			SentAt:         sentAt,
		},
	})
	a.trigger()
}
