package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/sequencer"
)

const defaultTTL = 2 * time.Hour

// ErrInvalidID is returned for session ids that are not UUIDs.
var ErrInvalidID = errors.New("sessions: invalid session id")

// Factory builds a fresh sequencer for a new visitor.
type Factory func() *sequencer.Sequencer

type entry struct {
	mu       sync.Mutex
	build    sync.Once
	seq      *sequencer.Sequencer
	lastSeen time.Time
}

// Store keeps one sequencer per visitor in memory and serialises access to each.
type Store struct {
	factory Factory
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Option customises a Store.
type Option func(*Store)

// WithTTL sets how long an idle session is kept.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger used by the cleanup loop.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs a Store that builds sequencers with factory.
func NewStore(factory Factory, opts ...Option) *Store {
	if factory == nil {
		panic("sessions: factory is required")
	}
	s := &Store{
		factory: factory,
		ttl:     defaultTTL,
		clock:   time.Now,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewID returns a fresh session identifier.
func NewID() string { return uuid.NewString() }

// ValidID reports whether id looks like an identifier issued by NewID.
func ValidID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// With runs fn with the session's sequencer while holding that session's lock, creating
// the session on first use. Only the new session waits for its sequencer to be built.
// Work that blocks on the network must not run inside fn.
func (s *Store) With(id string, fn func(*sequencer.Sequencer) error) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	e := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.build.Do(func() { e.seq = s.factory() })
	e.lastSeen = s.clock()
	return fn(e.seq)
}

func (s *Store) get(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{lastSeen: s.clock()}
		s.entries[id] = e
	}
	return e
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup evicts sessions idle for longer than the TTL and returns how many were removed.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		idle := now.Sub(e.lastSeen)
		e.mu.Unlock()
		if idle > s.ttl {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Run evicts idle sessions every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Cleanup(s.clock()); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}
