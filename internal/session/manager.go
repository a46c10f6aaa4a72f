package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/threadlens/internal/records"
)

// ErrSessionNotFound is returned for unknown or closed session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps one session per viewer over a shared read-only store.
type Manager struct {
	store *records.Store
	opts  []Option
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions are built with opts.
func NewManager(store *records.Store, opts ...Option) *Manager {
	return &Manager{
		store:    store,
		opts:     opts,
		now:      newSettings(opts).now,
		sessions: make(map[string]*Session),
	}
}

// Store returns the shared record store.
func (m *Manager) Store() *records.Store { return m.store }

// Open starts a new session with a fresh id.
func (m *Manager) Open() (*Session, error) {
	s, err := New(uuid.Must(uuid.NewV7()).String(), m.store, m.opts...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Sweep closes sessions idle for longer than maxIdle and returns how many
// were closed. Idle sessions are found under the read lock so a session busy
// in Dispatch never blocks Get or Open.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.RLock()
	open := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		open[id] = s
	}
	m.mu.RUnlock()

	var idle []string
	for id, s := range open {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for _, id := range idle {
		// Skip sessions closed or replaced since the scan.
		if s, ok := m.sessions[id]; ok && s == open[id] {
			delete(m.sessions, id)
			closed++
		}
	}
	return closed
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
