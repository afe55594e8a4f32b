package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Emit("store.updated", "payload")

	select {
	case evt := <-ch:
		if evt.Kind != "store.updated" {
			t.Errorf("kind = %q, want store.updated", evt.Kind)
		}
		if evt.Payload != "payload" {
			t.Errorf("payload = %v, want payload", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	pushCh, unsub1 := b.Subscribe("push.", 10)
	defer unsub1()
	sessCh, unsub2 := b.Subscribe("session.", 10)
	defer unsub2()

	b.Emit("push.message_created", nil)

	select {
	case <-pushCh:
	case <-time.After(time.Second):
		t.Fatal("push subscriber should receive push.message_created")
	}

	select {
	case evt := <-sessCh:
		t.Errorf("session subscriber received %q, want nothing", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	unsub()

	b.Emit("store.updated", nil)

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Second publish would block forever on an unbuffered send.
		b.Emit("store.updated", nil)
		b.Emit("store.updated", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
