package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"call-analysis-console/internal/observability/logging"
	"call-analysis-console/internal/observability/metrics"
)

// Store keeps one Session per client. Sessions share nothing; the store
// only guards its own map.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewStore creates a store evicting sessions idle longer than idleTTL.
func NewStore(idleTTL time.Duration, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Store{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
		metrics:  m,
		log:      logging.WithComponent("session.store"),
	}
}

// Get returns the session for key, creating a fresh one when key is unknown
// or empty. The boolean reports whether a new session was created.
func (st *Store) Get(key string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	if s, ok := st.sessions[key]; ok && key != "" {
		s.lastSeen = now
		return s, false
	}

	s := newSession(uuid.NewString(), now)
	st.sessions[s.key] = s
	st.metrics.RecordSessionCreated()
	l := logging.WithSession(s.key)
	l.Debug().Msg("Session created")
	return s, true
}

// Remove drops a session. Unknown keys are ignored.
func (st *Store) Remove(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[key]; ok {
		delete(st.sessions, key)
		st.metrics.RecordSessionEnded(false)
		l := logging.WithSession(key)
		l.Debug().Msg("Session removed")
	}
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts idle sessions and returns how many were removed.
func (st *Store) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := st.now().Add(-st.idleTTL)
	n := 0
	for key, s := range st.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(st.sessions, key)
			l := logging.WithSession(key)
			l.Debug().Time("lastSeen", s.lastSeen).Msg("Session evicted")
			st.metrics.RecordSessionEnded(true)
			n++
		}
	}
	if n > 0 {
		st.log.Info().Int("evicted", n).Int("remaining", len(st.sessions)).Msg("Idle sessions evicted")
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (st *Store) Run(ctx context.Context) {
	interval := st.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}
