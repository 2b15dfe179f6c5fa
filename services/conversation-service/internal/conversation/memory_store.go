package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local backend. Sessions are not shared with
// other instances.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
	writes  int
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

const sweepEvery = 256

func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{ttl: ttl, now: now, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) Get(_ context.Context, phone string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[phone]
	if !ok {
		return NewSession(), nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, phone)
		return NewSession(), nil
	}
	return e.session.sanitize(), nil
}

func (s *MemoryStore) Set(_ context.Context, phone string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess.LastMessageAt = now.UnixMilli()
	s.entries[phone] = memoryEntry{session: sess, expiresAt: now.Add(s.ttl)}

	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked(now)
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, phone)
	return nil
}

// Len counts stored sessions, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for phone, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, phone)
		}
	}
}
