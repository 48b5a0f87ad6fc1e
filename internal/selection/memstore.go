package selection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/detailhub/zoneconfigurator/model"
)

// MemorySessionStore is an in-memory SessionStore for single-instance
// deployments and tests. Sessions are stored as deep copies.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session       // key: session ID
	events   map[string][]model.SessionEvent // key: session ID
	now      func() time.Time
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*model.Session),
		events:   make(map[string][]model.SessionEvent),
		now:      time.Now,
	}
}

// Create persists a new session.
func (s *MemorySessionStore) Create(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("configurator session %q already exists", sess.ID),
		)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get retrieves a session by ID, scoped to tenant.
func (s *MemorySessionStore) Get(_ context.Context, tenantID, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return sess.Clone(), nil
}

// Update persists a session with optimistic locking.
func (s *MemorySessionStore) Update(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists || existing.TenantID != sess.TenantID {
		return model.NewSessionNotFoundError(sess.ID)
	}

	if existing.Version != sess.Version {
		return model.NewConflictError(
			fmt.Sprintf("configurator session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
		)
	}

	sess.Version++
	sess.UpdatedAt = s.now().UTC()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete removes a session and its events.
func (s *MemorySessionStore) Delete(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return model.NewSessionNotFoundError(sessionID)
	}
	delete(s.sessions, sessionID)
	delete(s.events, sessionID)
	return nil
}

// AppendEvent adds an event to the session's audit trail.
func (s *MemorySessionStore) AppendEvent(_ context.Context, event model.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[event.SessionID]; !exists {
		return model.NewSessionNotFoundError(event.SessionID)
	}
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

// GetEvents returns the session's events ordered by timestamp.
func (s *MemorySessionStore) GetEvents(_ context.Context, tenantID, sessionID string) ([]model.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}

	events := s.events[sessionID]
	result := make([]model.SessionEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// FindExpired returns sessions past their expiration time, oldest first.
func (s *MemorySessionStore) FindExpired(_ context.Context, cutoff time.Time) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Session
	for _, sess := range s.sessions {
		if sess.ExpiresAt == nil || !sess.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, sess.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// HealthCheck always succeeds.
func (s *MemorySessionStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
