package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindChannelConnected})

	select {
	case evt := <-ch:
		if evt.Kind != KindChannelConnected {
			t.Errorf("kind = %q, want %q", evt.Kind, KindChannelConnected)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Publish should stamp a zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	chanCh, unsub1 := b.Subscribe("channel.", 10)
	defer unsub1()
	msgCh, unsub2 := b.Subscribe("message.", 10)
	defer unsub2()

	b.Publish(Event{Kind: KindInboundMessage, Payload: InboundMessage{ConversationID: "42"}})

	select {
	case evt := <-msgCh:
		in, ok := evt.Payload.(InboundMessage)
		if !ok {
			t.Fatalf("payload type = %T, want InboundMessage", evt.Payload)
		}
		if in.ConversationID != "42" {
			t.Errorf("conversation = %q, want 42", in.ConversationID)
		}
	case <-time.After(time.Second):
		t.Fatal("message subscriber did not receive the event")
	}

	select {
	case evt := <-chanCh:
		t.Errorf("channel subscriber received unrelated event %q", evt.Kind)
	default:
	}
}

func TestEmptyNamespaceMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindQueueEnqueued})
	b.Publish(Event{Kind: KindConnectivityOnline})

	for _, want := range []string{KindQueueEnqueued, KindConnectivityOnline} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("kind = %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("queue.", 10)
	unsub()

	b.Publish(Event{Kind: KindQueueEnqueued})

	select {
	case evt := <-ch:
		t.Errorf("received event %q after unsubscribe", evt.Kind)
	default:
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Kind: KindStatusChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
