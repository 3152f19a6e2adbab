package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
)

const (
	defaultSessionTTL    = 2 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithTTL sets how long an idle session is kept.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = func() time.Time { return clock().UTC() }
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Store keeps sessions in memory. Nothing is persisted across restarts.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	catalog  catalog.Catalog
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
}

// NewStore constructs an empty Store over the given catalog.
func NewStore(cat catalog.Catalog, opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		catalog:  cat,
		ttl:      defaultSessionTTL,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new session, prefilled from seed.
func (s *Store) Create(seed Seed) *Session {
	sess := newSession(s.newID(), s.catalog, seed, s.now)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	s.mu.RUnlock()
	return sess, ok
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the live session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sweep removes sessions idle for longer than the TTL and stops their pollers.
// Sessions with a submission in flight are kept.
func (s *Store) Sweep() []string {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		snap := sess.Snapshot()
		if snap.Processing || !snap.UpdatedAt.Before(cutoff) {
			continue
		}
		expired = append(expired, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		sess.Close()
		ids = append(ids, sess.id)
	}
	sort.Strings(ids)
	return ids
}

// Run sweeps on interval until ctx is cancelled. onSweep, when set, receives the removed ids.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func([]string)) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil && len(removed) > 0 {
				onSweep(removed)
			}
		}
	}
}

// Close stops every session's poller.
func (s *Store) Close() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
