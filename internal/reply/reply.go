// Package reply builds and resolves reply references. A reference carries a
// denormalized snapshot of its target so the reply renders even after the
// target message is deleted locally.
package reply

import "github.com/charla-social/charla/internal/store"

// excerptRunes caps the snapshot body excerpt.
const excerptRunes = 80

// BuildReference captures a reply snapshot of target at compose time: author,
// a body excerpt and the first attachment as thumbnail.
func BuildReference(target store.Message) store.ReplyReference {
	ref := store.ReplyReference{
		TargetID: target.ID,
		Author:   target.Author,
		Excerpt:  excerpt(target.Body),
	}
	if len(target.Attachments) > 0 {
		thumb := target.Attachments[0]
		ref.Thumbnail = &thumb
	}
	return ref
}

// Resolution is the display view of a reply reference. Live is set when the
// target is still in the store, enabling "scroll to original"; the snapshot
// always renders.
type Resolution struct {
	Live     *store.Message
	Snapshot store.ReplyReference
}

// Resolve locates ref's target in the store. A missing target is not an
// error: the snapshot stands on its own. The snapshot is never mutated, even
// when the live target has been edited since.
func Resolve(ref store.ReplyReference, s *store.MessageStore) Resolution {
	res := Resolution{Snapshot: ref}
	if m, ok := s.Get(ref.TargetID); ok {
		res.Live = &m
	}
	return res
}

func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptRunes {
		return body
	}
	return string(runes[:excerptRunes]) + "…"
}
