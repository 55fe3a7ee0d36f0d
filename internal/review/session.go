// internal/review/session.go
package review

import (
	"context"
	"sync"
	"time"

	"paygate/internal/domain"
	"paygate/internal/util"
)

// Kind names the reply an administrator is expected to type next.
type Kind string

const (
	KindRejectReason      Kind = "reject_reason"
	KindExternalReference Kind = "external_reference"
)

// Key identifies one conversation: an administrator working on one transaction.
type Key struct {
	Admin string
	Ref   domain.TxRef
	Kind  Kind
}

// Session is an open multi-step reply.
type Session struct {
	Key       Key
	StartedAt time.Time
	ExpiresAt time.Time
}

// Store keeps review sessions per (admin, transaction, kind) with a TTL.
// Sessions of different administrators or transactions never share state.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[Key]Session
	now      func() time.Time
}

// NewStore creates a session store.
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, sessions: make(map[Key]Session), now: time.Now}
}

// Begin opens (or renews) a session.
func (s *Store) Begin(admin string, ref domain.TxRef, kind Kind) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := Session{Key: Key{Admin: admin, Ref: ref, Kind: kind}, StartedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.sessions[sess.Key] = sess
	return sess
}

// Take consumes an open session. It returns util.ErrNoSession if none is open or it expired.
func (s *Store) Take(admin string, ref domain.TxRef, kind Kind) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{Admin: admin, Ref: ref, Kind: kind}
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, util.ErrNoSession
	}
	delete(s.sessions, key)
	if !s.now().Before(sess.ExpiresAt) {
		return Session{}, util.ErrNoSession
	}
	return sess, nil
}

// Pending returns the kind of the admin's open session for ref, if any.
func (s *Store) Pending(admin string, ref domain.TxRef) (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, kind := range []Kind{KindRejectReason, KindExternalReference} {
		if sess, ok := s.sessions[Key{Admin: admin, Ref: ref, Kind: kind}]; ok && now.Before(sess.ExpiresAt) {
			return kind, true
		}
	}
	return "", false
}

// Sweep drops expired sessions and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				util.GetLogger().Debug("expired review sessions removed", "count", n)
			}
		}
	}
}
