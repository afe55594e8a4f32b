package store

import "sync"

// MessageStore is the ordered, deduplicated message collection for one open
// conversation. It is the single source of truth the UI reads.
//
// Messages are kept in insertion order of first upsert, not timestamp order:
// a message arriving late over the push channel is appended at the position
// of arrival, and upserting an existing id replaces it in place so concurrent
// edits never move a message. Server timestamps are preserved on the Message
// for consumers that want to re-sort.
//
// All mutations go through the reconciler; nothing else writes here.
type MessageStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID: make(map[string]Message),
	}
}

// Upsert inserts the message or, if its id is already present, replaces the
// existing entry in place. Reports whether a new entry was inserted.
func (s *MessageStore) Upsert(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.byID[m.ID]
	s.byID[m.ID] = m
	if !exists {
		s.order = append(s.order, m.ID)
	}
	return !exists
}

// Remove deletes the message with the given id. Removing an absent id is a
// no-op. Reports whether an entry was removed.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Patch applies fn to the stored message with the given id, keeping its
// position. Patching an absent id is a no-op. Reports whether fn ran.
func (s *MessageStore) Patch(id string, fn func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(&m)
	m.ID = id // the id is immutable, even against a careless patch
	s.byID[id] = m
	return true
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok
}

// List returns copies of all messages in insertion order.
func (s *MessageStore) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Reset replaces the whole store with msgs, deduplicating by id (first
// occurrence wins the position, last occurrence wins the content). Used for
// the initial history load and the offline-cache warm-up.
func (s *MessageStore) Reset(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.byID = make(map[string]Message, len(msgs))
	for _, m := range msgs {
		if _, exists := s.byID[m.ID]; !exists {
			s.order = append(s.order, m.ID)
		}
		s.byID[m.ID] = m
	}
}
