package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/status"
	"go.uber.org/zap"
)

// Transport is the slice of the realtime channel the monitor drives.
type Transport interface {
	Kick()
	ForceReconnect()
	Verify()
	SetForeground(fg bool)
}

// Prober checks raw backend reachability, independent of the channel. The
// backend client's Health method satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor owns the "can-send-now" signal. The channel's own connect and
// disconnect events are authoritative; the platform's coarse online/offline
// hint only triggers reconnect attempts: a device can report online while
// the backend is unreachable, and offline spuriously.
type Monitor struct {
	bus       *bus.Bus
	machine   *status.Machine
	transport Transport
	prober    Prober
	logger    *zap.Logger

	probeEvery time.Duration

	mu         sync.Mutex
	onlineHint bool
	visible    bool
	lastCan    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a connectivity monitor. prober may be nil to disable
// health probing.
func NewMonitor(b *bus.Bus, m *status.Machine, tr Transport, prober Prober, logger *zap.Logger) *Monitor {
	return &Monitor{
		bus:        b,
		machine:    m,
		transport:  tr,
		prober:     prober,
		logger:     logger,
		probeEvery: 30 * time.Second,
		onlineHint: true,
		visible:    true,
	}
}

// Start begins watching channel transitions and probing while disconnected.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	ch, unsub := m.bus.Subscribe("channel.", 64)
	go func() {
		defer close(m.done)
		defer unsub()

		ticker := time.NewTicker(m.probeEvery)
		defer ticker.Stop()

		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindChannelConnected, bus.KindChannelDisconnected, bus.KindChannelStale:
					m.republish()
				}
			case <-ticker.C:
				m.probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop tears the monitor down.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// CanSend reports whether a direct send is worth attempting right now.
func (m *Monitor) CanSend() bool {
	m.mu.Lock()
	hint := m.onlineHint
	m.mu.Unlock()
	return hint && m.machine.Connected()
}

// SetOnlineHint feeds the platform's coarse online/offline signal. Offline
// fails fast: the transport is torn down immediately so further sends queue
// instead of hanging on a channel-level timeout. Online merely prompts a
// reconnect attempt.
func (m *Monitor) SetOnlineHint(online bool) {
	m.mu.Lock()
	changed := m.onlineHint != online
	m.onlineHint = online
	m.mu.Unlock()
	if !changed {
		return
	}

	if online {
		m.logger.Info("platform reports online, prompting reconnect")
		if !m.machine.Connected() {
			m.transport.Kick()
		}
	} else {
		m.logger.Info("platform reports offline, failing fast")
		if m.machine.Connected() {
			m.transport.ForceReconnect()
		}
	}
	m.republish()
}

// SetVisible feeds application visibility. Returning to the foreground
// verifies the channel unconditionally rather than trusting passive
// reconnection.
func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	was := m.visible
	m.visible = visible
	m.mu.Unlock()

	m.transport.SetForeground(visible)
	if visible && !was {
		m.logger.Info("application visible again, verifying channel")
		m.transport.Verify()
	}
}

// Visible reports the application's visibility state.
func (m *Monitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// probe checks backend reachability while the channel is down; a reachable
// backend upgrades the hint and skips the remaining backoff.
func (m *Monitor) probe(ctx context.Context) {
	if m.prober == nil || m.machine.Connected() {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.prober.Health(probeCtx); err != nil {
		m.logger.Debug("health probe failed", zap.Error(err))
		return
	}
	m.SetOnlineHint(true)
	m.transport.Kick()
}

// republish emits connectivity.online/offline when the can-send signal
// flips. The flush agent treats online as a drain trigger.
func (m *Monitor) republish() {
	can := m.CanSend()
	m.mu.Lock()
	changed := can != m.lastCan
	m.lastCan = can
	m.mu.Unlock()
	if !changed {
		return
	}
	kind := bus.KindConnectivityOffline
	if can {
		kind = bus.KindConnectivityOnline
	}
	m.bus.Publish(bus.Event{Kind: kind})
}
