package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/detailhub/zoneconfigurator/model"
)

// RedisSessionStore is a Redis-backed SessionStore. Each session is a JSON
// value whose key expires with the session; events are kept in a list that
// shares the session's TTL. Updates use WATCH/MULTI for optimistic locking.
type RedisSessionStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewRedisSessionStore creates a Redis session store. defaultTTL applies
// to sessions without an expiry time.
func NewRedisSessionStore(client *redis.Client, keyPrefix string, defaultTTL time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client:     client,
		prefix:     keyPrefix,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisSessionStore) eventsKey(sessionID string) string {
	return s.prefix + sessionID + ":events"
}

func (s *RedisSessionStore) ttl(sess *model.Session) time.Duration {
	if sess.ExpiresAt == nil {
		return s.defaultTTL
	}
	if d := sess.ExpiresAt.Sub(s.now()); d > time.Second {
		return d
	}
	return time.Second
}

// Create persists a new session.
func (s *RedisSessionStore) Create(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), data, s.ttl(sess)).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", sess.ID, err)
	}
	if !ok {
		return model.NewConflictError(
			fmt.Sprintf("configurator session %q already exists", sess.ID),
		)
	}
	return nil
}

// Get retrieves a session by ID, scoped to tenant.
func (s *RedisSessionStore) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	sess, err := s.load(ctx, s.client, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenantID {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return sess, nil
}

func (s *RedisSessionStore) load(ctx context.Context, c redis.Cmdable, sessionID string) (*model.Session, error) {
	raw, err := c.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", sessionID, err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %q: %w", sessionID, err)
	}
	return &sess, nil
}

// Update persists a session with optimistic locking.
func (s *RedisSessionStore) Update(ctx context.Context, sess *model.Session) error {
	key := s.key(sess.ID)

	next := sess.Clone()
	next.Version++
	next.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := s.ttl(next)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		if existing.TenantID != sess.TenantID {
			return model.NewSessionNotFoundError(sess.ID)
		}
		if existing.Version != sess.Version {
			return model.NewConflictError(
				fmt.Sprintf("configurator session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
			)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Expire(ctx, s.eventsKey(sess.ID), ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return model.NewConflictError(
			fmt.Sprintf("configurator session %q was modified concurrently", sess.ID),
		)
	}
	if err != nil {
		return err
	}

	sess.Version = next.Version
	sess.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes a session and its events.
func (s *RedisSessionStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(sessionID), s.eventsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", sessionID, err)
	}
	return nil
}

// AppendEvent adds an event to the session's audit trail.
func (s *RedisSessionStore) AppendEvent(ctx context.Context, event model.SessionEvent) error {
	ttl, err := s.client.PTTL(ctx, s.key(event.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis pttl %q: %w", event.SessionID, err)
	}
	// go-redis reports a missing key as -2.
	if ttl == -2 {
		return model.NewSessionNotFoundError(event.SessionID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	eventsKey := s.eventsKey(event.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, eventsKey, data)
		if ttl > 0 {
			pipe.PExpire(ctx, eventsKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append event %q: %w", event.SessionID, err)
	}
	return nil
}

// GetEvents returns the session's events in append order.
func (s *RedisSessionStore) GetEvents(ctx context.Context, tenantID, sessionID string) ([]model.SessionEvent, error) {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", sessionID, err)
	}

	events := make([]model.SessionEvent, 0, len(raw))
	for _, r := range raw {
		var ev model.SessionEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal session event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// FindExpired returns nothing: Redis expires session keys itself.
func (s *RedisSessionStore) FindExpired(context.Context, time.Time) ([]*model.Session, error) {
	return nil, nil
}

// HealthCheck pings Redis.
func (s *RedisSessionStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
