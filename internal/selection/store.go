package selection

import (
	"context"
	"time"

	"github.com/detailhub/zoneconfigurator/model"
)

// SessionStore persists configurator sessions and their events.
type SessionStore interface {
	// Create persists a new session. Returns CONFLICT if the id exists.
	Create(ctx context.Context, s *model.Session) error

	// Get retrieves a session by ID, scoped to a tenant. Returns
	// SESSION_NOT_FOUND if it doesn't exist or belongs to another tenant.
	Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error)

	// Update persists a modified session with optimistic locking. The
	// session's version must match the stored one; on success the version
	// is incremented in place. Returns CONFLICT on a version mismatch.
	Update(ctx context.Context, s *model.Session) error

	// Delete removes a session and its events.
	Delete(ctx context.Context, tenantID, sessionID string) error

	// AppendEvent adds an event to the session's audit trail.
	AppendEvent(ctx context.Context, event model.SessionEvent) error

	// GetEvents returns a session's events ordered by timestamp.
	GetEvents(ctx context.Context, tenantID, sessionID string) ([]model.SessionEvent, error)

	// FindExpired returns sessions whose expires_at is before cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]*model.Session, error)
}
