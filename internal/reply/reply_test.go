package reply

import (
	"strings"
	"testing"

	"github.com/charla-social/charla/internal/store"
)

func target() store.Message {
	return store.Message{
		ID:     "m1",
		Author: store.Identity{ID: "u1", DisplayName: "Ana"},
		Body:   "mensaje original",
		Attachments: []store.Attachment{
			{URL: "https://cdn/x.png", Kind: store.AttachmentImage, Name: "x.png"},
		},
	}
}

func TestBuildReferenceSnapshot(t *testing.T) {
	ref := BuildReference(target())

	if ref.TargetID != "m1" {
		t.Errorf("TargetID = %s, want m1", ref.TargetID)
	}
	if ref.Author.DisplayName != "Ana" {
		t.Errorf("Author = %+v, want snapshot of Ana", ref.Author)
	}
	if ref.Excerpt != "mensaje original" {
		t.Errorf("Excerpt = %q", ref.Excerpt)
	}
	if ref.Thumbnail == nil || ref.Thumbnail.URL != "https://cdn/x.png" {
		t.Errorf("Thumbnail = %+v, want first attachment", ref.Thumbnail)
	}
}

func TestBuildReferenceTruncatesExcerpt(t *testing.T) {
	m := target()
	m.Body = strings.Repeat("á", 200)
	ref := BuildReference(m)

	if got := len([]rune(ref.Excerpt)); got > excerptRunes+1 {
		t.Errorf("excerpt runes = %d, want at most %d plus ellipsis", got, excerptRunes)
	}
	if !strings.HasSuffix(ref.Excerpt, "…") {
		t.Error("truncated excerpt should end with ellipsis")
	}
}

func TestResolveLiveTarget(t *testing.T) {
	s := store.NewMessageStore()
	m := target()
	s.Upsert(m)

	res := Resolve(BuildReference(m), s)
	if res.Live == nil || res.Live.ID != "m1" {
		t.Errorf("Live = %+v, want m1", res.Live)
	}
}

func TestResolveAfterTargetDeleted(t *testing.T) {
	s := store.NewMessageStore()
	m := target()
	s.Upsert(m)
	ref := BuildReference(m)
	s.Remove("m1")

	res := Resolve(ref, s)
	if res.Live != nil {
		t.Error("Live should be nil after target deletion")
	}
	// The snapshot still renders unchanged.
	if res.Snapshot.Author.DisplayName != "Ana" || res.Snapshot.Excerpt != "mensaje original" {
		t.Errorf("Snapshot = %+v, want untouched", res.Snapshot)
	}
}

func TestResolveDoesNotReconcileSnapshotAgainstEdit(t *testing.T) {
	s := store.NewMessageStore()
	m := target()
	s.Upsert(m)
	ref := BuildReference(m)

	// Target edited after the reply was composed.
	s.Patch("m1", func(msg *store.Message) {
		msg.Body = "editado"
		msg.Edited = true
	})

	res := Resolve(ref, s)
	if res.Snapshot.Excerpt != "mensaje original" {
		t.Errorf("snapshot excerpt = %q, want compose-time content", res.Snapshot.Excerpt)
	}
	if res.Live == nil || res.Live.Body != "editado" {
		t.Errorf("Live = %+v, want the edited message", res.Live)
	}
}
