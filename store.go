// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"sync"
	"time"
)

// Store is a process-wide handle->Session map plus a deferred-
// reclamation list, grounded on the teacher's DialogsClientCache
// sync.Map pattern (dialog_cache.go) but generalized to the two-phase
// destruction §4.4 requires: destroy_session removes from the live
// map and appends to a destroyed list instead of freeing outright, so
// the relay loop and ingress shims racing against destruction always
// observe a consistent Session rather than a freed one.
type Store struct {
	mu        sync.Mutex
	live      map[string]*Session
	destroyed []*destroyedEntry
}

type destroyedEntry struct {
	session *Session
	at      time.Time
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{live: make(map[string]*Session)}
}

// Create adds a newly-created session to the live map. Returns false
// if the handle is already in use.
func (st *Store) Create(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.live[s.Handle]; exists {
		return false
	}
	st.live[s.Handle] = s
	return true
}

// Lookup returns the live session for handle, or nil if absent or
// already destroyed.
func (st *Store) Lookup(handle string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.live[handle]
}

// Destroy removes handle from the live map and appends it to the
// destroyed list with a fresh timestamp. Idempotent: destroying an
// already-destroyed or unknown handle is a no-op and returns nil.
func (st *Store) Destroy(handle string, now time.Time) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.live[handle]
	if !ok {
		return nil
	}
	delete(st.live, handle)
	s.markDestroyed(now)
	st.destroyed = append(st.destroyed, &destroyedEntry{session: s, at: now})
	return s
}

// Sweep removes and returns every destroyed entry older than grace as
// of now, for the reaper to free.
func (st *Store) Sweep(now time.Time, grace time.Duration) []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	var freed []*Session
	remaining := st.destroyed[:0]
	for _, e := range st.destroyed {
		if now.Sub(e.at) >= grace {
			freed = append(freed, e.session)
			continue
		}
		remaining = append(remaining, e)
	}
	st.destroyed = remaining
	return freed
}

// Len reports the number of live sessions, for query/diagnostic use.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.live)
}
