package capstore

import (
	"log/slog"
	"sync"
)

// Store is the single shared capability table (C1). All three operations
// take the store's mutex for their duration — the teacher's
// Kernel.createCapWithMuLock/hasCapWithMuLock pattern generalized into its
// own addressable component, since the spec treats the capability store as
// independently testable rather than kernel-private state.
type Store struct {
	mu     sync.Mutex
	nextID Id
	caps   map[Id]Capability
}

func NewStore() *Store {
	return &Store{
		nextID: 1,
		caps:   make(map[Id]Capability),
	}
}

// Create always succeeds: it allocates a fresh, strictly increasing Id and
// inserts the record under the lock.
func (s *Store) Create(cap Capability) Id {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.caps[id] = cap

	if cap.Kind == KindFileSystem && cap.PathPrefix == "" {
		slog.Warn("capability created with empty FileSystem path_prefix — matches every path",
			slog.Any("cap_id", id))
	}
	return id
}

// Resolve returns a copy of the stored capability, or (zero, false) if the
// id is absent or was revoked.
func (s *Store) Resolve(id Id) (Capability, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap, ok := s.caps[id]
	return cap, ok
}

// Revoke removes the record and reports whether it existed. Revocation is
// immediate and total: any bag or message still referencing id will, from
// this point on, treat it as unresolved (invariant 1) rather than faulting.
func (s *Store) Revoke(id Id) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caps[id]; !ok {
		return false
	}
	delete(s.caps, id)
	return true
}

// Len reports the number of live (unrevoked) capabilities. Used only by
// audit/introspection paths — never by the authorization chokepoint.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.caps)
}
