package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/diagerr"
)

// SessionStore holds one SessionState JSON blob per conversation in
// Redis, with a TTL so abandoned conversations age out, suited for a
// multi-replica deployment: any replica can serve any session id.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore connects to Redis using the given configuration.
func NewSessionStore(cfg config.RedisConfig) *SessionStore {
	return &SessionStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: cfg.TTL,
	}
}

func sessionKey(id string) string { return "diagd:session:" + id }

// Create allocates a new session id and persists its initial state.
func (s *SessionStore) Create(ctx context.Context, userProblem string) (*SessionState, error) {
	state := &SessionState{
		SessionID:   uuid.New().String(),
		UserProblem: userProblem,
		CreatedAt:   time.Now(),
	}
	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get loads a session's state. Returns a diagerr.KindNotFound error if
// the session does not exist or has expired.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionState, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, diagerr.New(diagerr.KindNotFound, "session "+sessionID+" not found")
		}
		return nil, diagerr.Wrap(diagerr.KindTransientUpstream, "load session", err)
	}

	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, diagerr.Wrap(diagerr.KindDataIntegrity, "decode session state", err)
	}
	return &state, nil
}

// Save persists a session's state, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, state *SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return diagerr.Wrap(diagerr.KindInvariantViolation, "encode session state", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(state.SessionID), raw, s.ttl).Err(); err != nil {
		return diagerr.Wrap(diagerr.KindTransientUpstream, "save session", err)
	}
	return nil
}

// Delete removes a session's state immediately instead of waiting out
// its TTL.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return diagerr.Wrap(diagerr.KindTransientUpstream, "delete session", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *SessionStore) Close() error { return s.rdb.Close() }
