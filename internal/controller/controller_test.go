package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/store"
	"go.uber.org/zap"
)

type sentMsg struct {
	ConversationID string
	Req            backend.SendRequest
}

type fakeBackend struct {
	mu      sync.Mutex
	convs   []backend.Conversation
	listErr error
	history map[string][]backend.Message
	histErr error
	sendErr error
	sends   []sentMsg
	next    int
}

func (f *fakeBackend) ListConversations(context.Context) ([]backend.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]backend.Conversation(nil), f.convs...), nil
}

func (f *fakeBackend) GetMessages(_ context.Context, conversationID string, _ int) ([]backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return append([]backend.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeBackend) SendMessage(_ context.Context, conversationID string, req backend.SendRequest) (*backend.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.next++
	f.sends = append(f.sends, sentMsg{ConversationID: conversationID, Req: req})
	return &backend.SendResult{MessageID: fmt.Sprintf("srv-%d", f.next), Timestamp: time.Now().UnixMilli()}, nil
}

type fakeMonitor struct {
	can     bool
	visible []bool
}

func (f *fakeMonitor) CanSend() bool     { return f.can }
func (f *fakeMonitor) SetVisible(v bool) { f.visible = append(f.visible, v) }

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
	focused  string
	muted    bool
}

func (f *fakeNotifier) Notify(conversationID, title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, conversationID+"/"+title+"/"+body)
}

func (f *fakeNotifier) SetFocused(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = id
}

func (f *fakeNotifier) SetVisible(bool)     {}
func (f *fakeNotifier) SetMuted(muted bool) { f.muted = muted }
func (f *fakeNotifier) Muted() bool         { return f.muted }

type testEnv struct {
	ctrl     *Controller
	backend  *fakeBackend
	monitor  *fakeMonitor
	notifier *fakeNotifier
	queue    store.Queue
	db       *store.DB
	bus      *bus.Bus
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		backend:  &fakeBackend{history: make(map[string][]backend.Message)},
		monitor:  &fakeMonitor{can: true},
		notifier: &fakeNotifier{},
		queue:    store.NewQueue(db, b),
		db:       db,
		bus:      b,
	}
	env.ctrl = New(env.backend, env.queue, env.monitor, env.notifier, db, b, zap.NewNop())
	return env
}

func TestSendDirectWhenConnected(t *testing.T) {
	env := newEnv(t)

	out, err := env.ctrl.SendMessage(context.Background(), "42", "hello", false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Queued {
		t.Error("outcome queued, want direct send")
	}
	if out.MessageID == "" || out.ClientID == "" {
		t.Errorf("outcome = %+v, want message and client ids", out)
	}
	if len(env.backend.sends) != 1 || env.backend.sends[0].Req.ClientID != out.ClientID {
		t.Errorf("backend sends = %+v", env.backend.sends)
	}
	if n, _ := env.queue.CountPending(); n != 0 {
		t.Errorf("pending = %d, want 0 for a direct send", n)
	}
}

func TestSendQueuedWhenCannotSend(t *testing.T) {
	env := newEnv(t)
	env.monitor.can = false

	out, err := env.ctrl.SendMessage(context.Background(), "42", "offline hello", true)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued || out.QueueID == 0 {
		t.Fatalf("outcome = %+v, want queued with an id", out)
	}
	if len(env.backend.sends) != 0 {
		t.Error("backend contacted while offline")
	}
	pending, _ := env.queue.ListPending()
	if len(pending) != 1 || pending[0].Body != "offline hello" || !pending[0].Translate {
		t.Errorf("pending = %+v", pending)
	}
}

func TestDirectSendNetworkFailureFallsBackToQueue(t *testing.T) {
	env := newEnv(t)
	env.backend.sendErr = fmt.Errorf("post: %w", backend.ErrNetworkUnreachable)

	out, err := env.ctrl.SendMessage(context.Background(), "42", "hello", false)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Queued {
		t.Error("outcome not queued after a network failure")
	}
	if n, _ := env.queue.CountPending(); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestRejectedDirectSendReturnedNotQueued(t *testing.T) {
	env := newEnv(t)
	env.backend.sendErr = &backend.RejectedError{Status: 422, Body: "message too long"}

	_, err := env.ctrl.SendMessage(context.Background(), "42", "hello", false)
	if err == nil {
		t.Fatal("want error for a definitive rejection")
	}
	if n, _ := env.queue.CountPending(); n != 0 {
		t.Errorf("pending = %d, want 0; rejections must not be queued", n)
	}
}

func TestInboundToUnfocusedConversationSetsUnread(t *testing.T) {
	env := newEnv(t)
	env.backend.convs = []backend.Conversation{
		{ID: "1", Name: "Old", LastMessageAt: 300},
		{ID: "2", Name: "Recent", LastMessageAt: 200},
		{ID: "3", Name: "Quiet", LastMessageAt: 100},
	}

	env.ctrl.route(bus.Event{Kind: bus.KindInboundMessage, Payload: bus.InboundMessage{
		ConversationID: "3", CustomerName: "Quiet", Body: "anyone there?", SentAt: time.Now(),
	}})

	if unread := env.ctrl.Unread(); len(unread) != 1 || unread[0] != "3" {
		t.Errorf("unread = %v, want [3]", unread)
	}

	views, err := env.ctrl.Conversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if views[0].ID != "3" {
		t.Errorf("first conversation = %s, want the unread one first despite oldest activity", views[0].ID)
	}
	if views[1].ID != "1" || views[2].ID != "2" {
		t.Errorf("read conversations order = %s,%s, want recency order 1,2", views[1].ID, views[2].ID)
	}

	if len(env.notifier.notified) != 1 {
		t.Errorf("notifier calls = %v, want 1", env.notifier.notified)
	}
}

func TestSelectClearsUnreadAndLoadsAuthoritativeHistory(t *testing.T) {
	env := newEnv(t)
	env.backend.history["3"] = []backend.Message{
		{ID: "m1", Sender: "Quiet", Body: "anyone there?", Timestamp: 1000},
	}
	env.ctrl.route(bus.Event{Kind: bus.KindInboundMessage, Payload: bus.InboundMessage{
		ConversationID: "3", CustomerName: "Quiet", Body: "anyone there?", SentAt: time.Now(),
	}})

	// A message composed offline for the same conversation is still queued.
	env.monitor.can = false
	if _, err := env.ctrl.SendMessage(context.Background(), "3", "yes, here", false); err != nil {
		t.Fatal(err)
	}

	msgs, err := env.ctrl.SelectConversation(context.Background(), "3")
	if err != nil {
		t.Fatal(err)
	}
	if len(env.ctrl.Unread()) != 0 {
		t.Error("unread not cleared by select")
	}
	if env.notifier.focused != "3" {
		t.Errorf("notifier focus = %q, want 3", env.notifier.focused)
	}
	if len(msgs) != 2 {
		t.Fatalf("thread = %d messages, want history + queued pending", len(msgs))
	}
	if msgs[0].ID != "m1" {
		t.Errorf("thread[0] = %+v, want the authoritative history entry", msgs[0])
	}
	if !msgs[1].Pending || msgs[1].Body != "yes, here" {
		t.Errorf("thread[1] = %+v, want the queued message as pending", msgs[1])
	}
}

func TestConfirmationCollapsesOntoDirectSend(t *testing.T) {
	env := newEnv(t)
	if _, err := env.ctrl.SelectConversation(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}
	out, err := env.ctrl.SendMessage(context.Background(), "42", "hello", false)
	if err != nil {
		t.Fatal(err)
	}

	// The channel echoes our own send back as a confirmation.
	env.ctrl.route(bus.Event{Kind: bus.KindSendConfirmed, Payload: bus.SendConfirmed{
		ConversationID: "42",
		MessageID:      out.MessageID,
		ClientID:       out.ClientID,
		Body:           "hello",
		SentAt:         time.Now(),
	}})

	_, msgs := env.ctrl.Thread()
	if len(msgs) != 1 {
		t.Fatalf("thread = %d messages, want 1 (echo deduplicated)", len(msgs))
	}
	if msgs[0].ID != out.MessageID || msgs[0].Pending {
		t.Errorf("thread[0] = %+v", msgs[0])
	}
}

func TestConfirmationCollapsesOntoQueuedPending(t *testing.T) {
	env := newEnv(t)
	if _, err := env.ctrl.SelectConversation(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}
	env.monitor.can = false
	if _, err := env.ctrl.SendMessage(context.Background(), "42", "queued hello", false); err != nil {
		t.Fatal(err)
	}

	// The flush agent delivered it; the channel confirms with ids the
	// controller never saw. Body equality collapses the duplicate.
	env.ctrl.route(bus.Event{Kind: bus.KindSendConfirmed, Payload: bus.SendConfirmed{
		ConversationID: "42",
		MessageID:      "srv-9",
		ClientID:       "queue-client-id",
		Body:           "queued hello",
		SentAt:         time.Now(),
	}})

	_, msgs := env.ctrl.Thread()
	if len(msgs) != 1 {
		t.Fatalf("thread = %d messages, want 1", len(msgs))
	}
	if msgs[0].Pending || msgs[0].ID != "srv-9" {
		t.Errorf("thread[0] = %+v, want confirmed with the server id", msgs[0])
	}
}

func TestSendFailureMarksThreadEntry(t *testing.T) {
	env := newEnv(t)
	if _, err := env.ctrl.SelectConversation(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}
	env.monitor.can = false
	out, err := env.ctrl.SendMessage(context.Background(), "42", "doomed", false)
	if err != nil {
		t.Fatal(err)
	}

	env.ctrl.route(bus.Event{Kind: bus.KindSendFailed, Payload: bus.SendFailed{
		ConversationID: "42",
		QueueID:        out.QueueID,
		Reason:         "blocked by recipient",
	}})

	_, msgs := env.ctrl.Thread()
	if len(msgs) != 1 || !msgs[0].Failed || msgs[0].FailReason != "blocked by recipient" {
		t.Errorf("thread = %+v, want the entry marked failed", msgs)
	}
}

func TestMirrorFallbackWhenLiveFetchFails(t *testing.T) {
	env := newEnv(t)
	env.backend.convs = []backend.Conversation{
		{ID: "1", Name: "Anna", LastMessage: "hi", LastMessageAt: 100},
	}

	// Successful fetch refreshes the mirror.
	if _, err := env.ctrl.Conversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	env.backend.listErr = fmt.Errorf("get: %w", backend.ErrNetworkUnreachable)
	views, err := env.ctrl.Conversations(context.Background())
	if err != nil {
		t.Fatalf("mirror fallback returned error: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Anna" {
		t.Errorf("views = %+v, want the mirrored conversation", views)
	}
}

func TestStartRoutesBusEvents(t *testing.T) {
	env := newEnv(t)
	env.ctrl.Start(context.Background())
	defer env.ctrl.Stop()

	env.bus.Publish(bus.Event{Kind: bus.KindInboundMessage, Payload: bus.InboundMessage{
		ConversationID: "7", CustomerName: "Bob", Body: "ping", SentAt: time.Now(),
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(env.ctrl.Unread()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("inbound event never routed to the unread set")
}
