package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Beeper plays the new-message sound.
type Beeper interface {
	Beep() error
}

// Popper shows a desktop popup. Available reports whether the platform
// notifier can be used at all; when it cannot, messages silently skip the
// popup half of the rule.
type Popper interface {
	Available() bool
	Pop(title, body string) error
}

// Dispatcher decides, per inbound message, whether to play a sound and
// whether to show a popup. The sound plays for every message unless muted.
// The popup only appears when the message would otherwise go unseen: the
// conversation is not the focused one, or the application is hidden.
// Notification failures are never surfaced to callers; a broken notifier
// must not affect message handling.
type Dispatcher struct {
	beeper Beeper
	popper Popper
	logger *zap.Logger

	mu      sync.Mutex
	muted   bool
	focused string // conversation id currently on screen, "" when none
	visible bool
}

// New creates a dispatcher. Pass nil for beeper or popper to use the
// platform defaults.
func New(beeper Beeper, popper Popper, logger *zap.Logger) *Dispatcher {
	if beeper == nil {
		beeper = defaultBeeper()
	}
	if popper == nil {
		popper = defaultPopper()
	}
	return &Dispatcher{
		beeper:  beeper,
		popper:  popper,
		logger:  logger,
		visible: true,
	}
}

// SetMuted toggles the sound.
func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
	d.logger.Info("notification sound toggled", zap.Bool("muted", muted))
}

// Muted reports the mute flag.
func (d *Dispatcher) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SetFocused records which conversation is on screen. Empty means none.
func (d *Dispatcher) SetFocused(conversationID string) {
	d.mu.Lock()
	d.focused = conversationID
	d.mu.Unlock()
}

// SetVisible records whether the application is visible at all.
func (d *Dispatcher) SetVisible(visible bool) {
	d.mu.Lock()
	d.visible = visible
	d.mu.Unlock()
}

// Notify handles one inbound message from the given conversation.
func (d *Dispatcher) Notify(conversationID, title, body string) {
	d.mu.Lock()
	muted := d.muted
	onScreen := d.visible && d.focused == conversationID
	d.mu.Unlock()

	if !muted {
		if err := d.beeper.Beep(); err != nil {
			d.logger.Debug("notification sound failed", zap.Error(err))
		}
	}

	if onScreen {
		// The user is already looking at this conversation.
		return
	}
	if !d.popper.Available() {
		return
	}
	if err := d.popper.Pop(title, body); err != nil {
		d.logger.Debug("notification popup failed", zap.Error(err))
	}
}
