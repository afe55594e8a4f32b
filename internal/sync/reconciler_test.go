package sync

import (
	"context"
	"testing"
	"time"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/identity"
	"github.com/charla-social/charla/internal/push"
	"github.com/charla-social/charla/internal/store"
)

func msg(id, body string) store.Message {
	return store.Message{
		ID:     id,
		Author: store.Identity{ID: "u1", DisplayName: "Ana", AvatarURL: "a.png"},
		Body:   body,
	}
}

func newTestReconciler() (*Reconciler, *store.MessageStore) {
	st := store.NewMessageStore()
	return NewReconciler("c1", st, nil, bus.New(), nil), st
}

func TestApplyHistoryReplacesStore(t *testing.T) {
	r, st := newTestReconciler()
	st.Upsert(msg("stale", "previo"))

	r.ApplyHistory([]store.Message{msg("m1", "uno"), msg("m2", "dos")})

	got := st.List()
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("List() = %+v", got)
	}
	if _, ok := st.Get("stale"); ok {
		t.Error("history load should replace wholesale")
	}
}

// A confirmed local send followed by the push-channel echo of the same
// creation must converge to one entry: dedup is by id, not content.
func TestLocalConfirmThenChannelEchoConvergesToOne(t *testing.T) {
	r, st := newTestReconciler()

	confirmed := msg("m1", "hola")
	r.ApplyRemoteEvent(Event{Kind: MessageCreated, ConversationID: "c1", Message: &confirmed})

	echo := msg("m1", "hola")
	r.ApplyRemoteEvent(Event{Kind: MessageCreated, ConversationID: "c1", Message: &echo})

	if st.Len() != 1 {
		t.Errorf("Len() = %d after confirm + echo, want 1", st.Len())
	}
}

func TestUpdatedKeepsPosition(t *testing.T) {
	r, st := newTestReconciler()
	r.ApplyHistory([]store.Message{msg("m1", "uno"), msg("m2", "dos")})

	edited := msg("m1", "uno editado")
	edited.Edited = true
	r.ApplyRemoteEvent(Event{Kind: MessageUpdated, ConversationID: "c1", Message: &edited})

	got := st.List()
	if got[0].ID != "m1" || got[0].Body != "uno editado" || !got[0].Edited {
		t.Errorf("List()[0] = %+v, want edited m1 in place", got[0])
	}
}

func TestDeleted(t *testing.T) {
	r, st := newTestReconciler()
	r.ApplyHistory([]store.Message{msg("m1", "uno"), msg("m2", "dos")})

	r.ApplyRemoteEvent(Event{Kind: MessageDeleted, ConversationID: "c1", MessageID: "m1"})

	got := st.List()
	if len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("List() = %+v, want [m2]", got)
	}
}

func TestDeletedAbsentIsNoop(t *testing.T) {
	r, st := newTestReconciler()
	r.ApplyHistory([]store.Message{msg("m1", "uno")})

	r.ApplyRemoteEvent(Event{Kind: MessageDeleted, ConversationID: "c1", MessageID: "nope"})

	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
}

func TestReactionChanged(t *testing.T) {
	r, st := newTestReconciler()
	r.ApplyHistory([]store.Message{msg("m1", "uno")})

	r.ApplyRemoteEvent(Event{
		Kind:           ReactionChanged,
		ConversationID: "c1",
		MessageID:      "m1",
		Reactions:      []store.Reaction{{Emoji: "👍", User: store.Identity{ID: "u2", DisplayName: "Beto"}}},
	})

	got, _ := st.Get("m1")
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "👍" {
		t.Errorf("reactions = %+v", got.Reactions)
	}
}

func TestEventForOtherConversationDropped(t *testing.T) {
	r, st := newTestReconciler()

	other := msg("m9", "ajeno")
	r.ApplyRemoteEvent(Event{Kind: MessageCreated, ConversationID: "c2", Message: &other})

	if st.Len() != 0 {
		t.Errorf("Len() = %d, events for another conversation must be dropped", st.Len())
	}
}

func TestNormalizeFillsPlaceholders(t *testing.T) {
	bare := store.Message{
		ID:      "m1",
		Body:    "hola",
		ReplyTo: &store.ReplyReference{TargetID: "m0", Excerpt: "previo"},
		Reactions: []store.Reaction{
			{Emoji: "👍", User: store.Identity{ID: "u3"}},
		},
	}

	got := Normalize(bare)

	if got.Author.DisplayName != identity.PlaceholderName {
		t.Errorf("author name = %q, want placeholder", got.Author.DisplayName)
	}
	if got.Author.AvatarURL != identity.PlaceholderAvatar {
		t.Errorf("author avatar = %q, want placeholder", got.Author.AvatarURL)
	}
	if got.ReplyTo.Author.DisplayName != identity.PlaceholderName {
		t.Errorf("reply author = %q, want placeholder", got.ReplyTo.Author.DisplayName)
	}
	if got.Reactions[0].User.DisplayName != identity.PlaceholderName {
		t.Errorf("reaction user = %q, want placeholder", got.Reactions[0].User.DisplayName)
	}
	if got.Attachments == nil {
		t.Error("attachments should default to an empty slice")
	}
}

func TestNormalizeDoesNotShareReplySnapshot(t *testing.T) {
	ref := &store.ReplyReference{TargetID: "m0"}
	in := store.Message{ID: "m1", Body: "hola", ReplyTo: ref}

	got := Normalize(in)

	if got.ReplyTo == ref {
		t.Error("normalized message should carry its own reply snapshot copy")
	}
	if ref.Author.DisplayName != "" {
		t.Error("input snapshot was mutated")
	}
}

func TestEmitsStoreUpdated(t *testing.T) {
	b := bus.New()
	st := store.NewMessageStore()
	r := NewReconciler("c1", st, nil, b, nil)

	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	created := msg("m1", "hola")
	r.ApplyRemoteEvent(Event{Kind: MessageCreated, ConversationID: "c1", Message: &created})

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if change.Kind != MessageCreated || change.MessageID != "m1" || change.ConversationID != "c1" {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for store.updated")
	}
}

// The reconciler subscribes to push.* on the bus: frames routed by the push
// channel land in the store without the session calling it directly.
func TestBusSubscriptionAppliesPushEvents(t *testing.T) {
	b := bus.New()
	st := store.NewMessageStore()
	r := NewReconciler("c1", st, nil, b, nil)

	r.Start(context.Background())
	defer r.Stop()

	m := msg("m1", "desde el canal")
	b.Emit(push.EventMessageCreated, &push.Inbound{ConversationID: "c1", Message: &m})

	deadline := time.After(2 * time.Second)
	for st.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("push event never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A frame for a conversation this reconciler does not own is ignored.
	foreign := msg("m2", "ajeno")
	b.Emit(push.EventMessageCreated, &push.Inbound{ConversationID: "c2", Message: &foreign})
	time.Sleep(50 * time.Millisecond)
	if st.Len() != 1 {
		t.Errorf("Len() = %d, foreign event must be ignored", st.Len())
	}
}
