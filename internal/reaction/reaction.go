// Package reaction groups and mutates message reaction lists. All functions
// are pure: inputs are never modified, results are fresh slices.
package reaction

import "github.com/charla-social/charla/internal/store"

// Group is the per-emoji display bucket: the emoji, how many users reacted
// with it, and who they are.
type Group struct {
	Emoji string
	Count int
	Users []store.Identity
}

// Add returns reactions with (emoji, user) present exactly once. If the user
// already reacted with that emoji the entry is replaced, not appended, so a
// doubled tap never inflates the count.
func Add(reactions []store.Reaction, emoji string, user store.Identity) []store.Reaction {
	out := make([]store.Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		if r.Emoji == emoji && r.User.ID == user.ID {
			continue
		}
		out = append(out, r)
	}
	return append(out, store.Reaction{Emoji: emoji, User: user})
}

// Remove returns reactions without the (emoji, userID) entry. An absent pair
// is a no-op, not an error.
func Remove(reactions []store.Reaction, emoji, userID string) []store.Reaction {
	out := make([]store.Reaction, 0, len(reactions))
	for _, r := range reactions {
		if r.Emoji == emoji && r.User.ID == userID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GroupByEmoji buckets reactions per emoji for display. Groups appear in
// first-seen order of each distinct emoji in the underlying list — stable
// across re-renders, never re-sorted by count.
func GroupByEmoji(reactions []store.Reaction) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, Group{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.User)
	}
	return groups
}
