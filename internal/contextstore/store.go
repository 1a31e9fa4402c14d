package contextstore

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/pkg/logger"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation, oldest turns first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type session struct {
	turns      []Turn
	lastActive time.Time
}

// Store keeps a bounded, TTL-expiring conversation history per user. Idle
// sessions are evicted lazily on access; there is no background sweep.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*session
	maxContext int
	ttl        time.Duration
	now        func() time.Time
}

func New(maxContext int, ttl time.Duration) *Store {
	return &Store{
		sessions:   make(map[string]*session),
		maxContext: maxContext,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Append adds a turn to the user's session, creating it if needed. The
// session holds at most maxContext turns; the oldest is evicted first.
func (s *Store) Append(userID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{}
		s.sessions[userID] = sess
	}

	sess.turns = append(sess.turns, Turn{Role: role, Content: content})
	if len(sess.turns) > s.maxContext {
		sess.turns = sess.turns[len(sess.turns)-s.maxContext:]
	}
	sess.lastActive = s.now()
}

// Get returns the user's history oldest-first, or an empty slice. Expired
// sessions across all users are evicted before the read.
func (s *Store) Get(userID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()

	sess, ok := s.sessions[userID]
	if !ok {
		return []Turn{}
	}

	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Clear drops the user's session entirely.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func (s *Store) evictExpired() {
	cutoff := s.now().Add(-s.ttl)
	for userID, sess := range s.sessions {
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, userID)
			logger.Debug("Idle session evicted", zap.String("user_id", userID))
		}
	}
}
