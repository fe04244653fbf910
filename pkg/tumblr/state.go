// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"sort"
	"sync"
	"time"
)

// TrackedMessage is the minimal per-message record the tracker keeps:
// the id and whether the active blog sent it.
type TrackedMessage struct {
	ID       MessageID
	FromSelf bool
}

type threadState struct {
	// messages is kept ascending by numeric id value.
	messages []TrackedMessage
	// lastRead is the read boundary in seconds. Message ids encode
	// milliseconds; the comparison multiplies by 1000.
	lastRead int64
	touched  time.Time
}

// ThreadStore tracks, per conversation, which message ids are known and
// where the read boundary sits. It is owned by a single Client instance so
// separate logins never share state. The table is bounded: beyond
// maxThreads, the least recently touched thread is evicted, and each thread
// keeps at most maxMessages of its newest ids.
type ThreadStore struct {
	mu          sync.Mutex
	threads     map[ConversationID]*threadState
	maxThreads  int
	maxMessages int
}

// NewThreadStore creates a store with the default capacity bounds.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads:     make(map[ConversationID]*threadState),
		maxThreads:  DefaultMaxTrackedThreads,
		maxMessages: DefaultMaxTrackedMessages,
	}
}

// getOrCreate must be called with the lock held.
func (s *ThreadStore) getOrCreate(id ConversationID) *threadState {
	thread, ok := s.threads[id]
	if !ok {
		if len(s.threads) >= s.maxThreads {
			s.evictOldest()
		}
		thread = &threadState{}
		s.threads[id] = thread
	}
	thread.touched = time.Now()
	return thread
}

// evictOldest must be called with the lock held.
func (s *ThreadStore) evictOldest() {
	var oldestID ConversationID
	var oldest time.Time
	first := true
	for id, thread := range s.threads {
		if first || thread.touched.Before(oldest) {
			oldestID = id
			oldest = thread.touched
			first = false
		}
	}
	if !first {
		delete(s.threads, oldestID)
	}
}

// AddMessages merges the given messages into the thread's known set and
// returns only the ones that were not known before. Re-adding known ids is
// a no-op and returns an empty slice.
func (s *ThreadStore) AddMessages(id ConversationID, messages []TrackedMessage) []TrackedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := s.getOrCreate(id)

	known := make(map[MessageID]struct{}, len(thread.messages))
	for _, m := range thread.messages {
		known[m.ID] = struct{}{}
	}

	var added []TrackedMessage
	for _, m := range messages {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known[m.ID] = struct{}{}
		added = append(added, m)
	}
	if len(added) == 0 {
		return nil
	}

	thread.messages = append(thread.messages, added...)
	sort.Slice(thread.messages, func(i, j int) bool {
		return thread.messages[i].ID.Less(thread.messages[j].ID)
	})
	if overflow := len(thread.messages) - s.maxMessages; overflow > 0 {
		thread.messages = thread.messages[overflow:]
	}
	return added
}

// UpdateLastRead sets the thread's read boundary in seconds. A zero or
// negative timestamp is rejected; callers that mean "now" pass
// time.Now().Unix() deliberately.
func (s *ThreadStore) UpdateLastRead(id ConversationID, seconds int64) bool {
	if seconds <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(id).lastRead = seconds
	return true
}

// LastRead returns the thread's read boundary in seconds.
func (s *ThreadStore) LastRead(id ConversationID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread, ok := s.threads[id]; ok {
		return thread.lastRead
	}
	return 0
}

// LastReadMessageID returns the latest known id whose millisecond value is
// strictly below the read boundary.
func (s *ThreadStore) LastReadMessageID(id ConversationID) (MessageID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return "", false
	}
	return lastReadIn(thread)
}

func lastReadIn(thread *threadState) (MessageID, bool) {
	boundary := thread.lastRead * 1000
	for i := len(thread.messages) - 1; i >= 0; i-- {
		ms, ok := thread.messages[i].ID.Millis()
		if ok && ms < boundary {
			return thread.messages[i].ID, true
		}
	}
	return "", false
}

// UnreadCount counts known messages after the read boundary that were not
// sent by the active blog. An empty thread, or one where everything predates
// the boundary, counts zero.
func (s *ThreadStore) UnreadCount(id ConversationID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok || len(thread.messages) == 0 {
		return 0
	}

	start := 0
	if lastRead, found := lastReadIn(thread); found {
		for i, m := range thread.messages {
			if m.ID == lastRead {
				start = i + 1
				break
			}
		}
	}

	count := 0
	for _, m := range thread.messages[start:] {
		if !m.FromSelf {
			count++
		}
	}
	return count
}

// TrackedThreadIDs returns the ids of all threads the store knows about.
func (s *ThreadStore) TrackedThreadIDs() []ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ConversationID, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}

// MessageIDs returns the thread's known ids in ascending order. Used by
// tests and the poller's change detection.
func (s *ThreadStore) MessageIDs(id ConversationID) []MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return nil
	}
	ids := make([]MessageID, len(thread.messages))
	for i, m := range thread.messages {
		ids[i] = m.ID
	}
	return ids
}

// Forget drops a thread from the table, used when a conversation is deleted.
func (s *ThreadStore) Forget(id ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
}

// trackConversation seeds the tracker from a fetched conversation: the read
// boundary and every message id on the embedded page.
func trackConversation(store *ThreadStore, conv *Conversation, ownBlogUUID string) []TrackedMessage {
	if !conv.LastReadTS.IsZero() {
		store.UpdateLastRead(conv.ID, conv.LastReadTS.Unix())
	}
	return store.AddMessages(conv.ID, trackedMessages(conv.Messages.Data, ownBlogUUID))
}

func trackedMessages(messages []Message, ownBlogUUID string) []TrackedMessage {
	tracked := make([]TrackedMessage, len(messages))
	for i, m := range messages {
		tracked[i] = TrackedMessage{ID: m.TS, FromSelf: m.Participant == ownBlogUUID}
	}
	return tracked
}
