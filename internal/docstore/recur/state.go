package recur

import (
	"sort"
	"sync"
)

// SchedulerState maps task ids to their active clock unsubscribe handles.
// At most one subscription exists per id.
type SchedulerState struct {
	mu   sync.Mutex
	subs map[string]func()
}

// NewSchedulerState creates an empty state.
func NewSchedulerState() *SchedulerState {
	return &SchedulerState{subs: make(map[string]func())}
}

// Set stores unsubscribe for id, tearing down any previous subscription.
func (s *SchedulerState) Set(id string, unsubscribe func()) {
	s.mu.Lock()
	prev := s.subs[id]
	s.subs[id] = unsubscribe
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Cancel tears down the subscription for id, if any.
func (s *SchedulerState) Cancel(id string) {
	s.mu.Lock()
	prev, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok && prev != nil {
		prev()
	}
}

// CancelAll tears down every subscription.
func (s *SchedulerState) CancelAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func())
	s.mu.Unlock()

	for _, unsub := range subs {
		if unsub != nil {
			unsub()
		}
	}
}

// Has reports whether id has an active subscription.
func (s *SchedulerState) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

// IDs returns the subscribed ids, sorted.
func (s *SchedulerState) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of active subscriptions.
func (s *SchedulerState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
