package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
)

const defaultKeyPrefix = "tenantauth:session"

var (
	// ErrSessionNotFound is returned for unknown, expired, or revoked sessions
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingSessionID is returned when claims carry no session id
	ErrMissingSessionID = errors.New("claims carry no session id")
)

// Session is the server-side record of an issued token
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store records live sessions in Redis so tokens can be revoked before they expire
type Store struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a session store. An empty prefix uses the default.
func NewStore(client *redis.Client, prefix string, logger *logrus.Logger) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Store{client: client, prefix: prefix, logger: logger, now: time.Now}
}

// Create records the session of freshly issued claims. The record expires with the token.
func (s *Store) Create(ctx context.Context, claims *auth.TokenClaims) error {
	if claims.SessionID == "" {
		return ErrMissingSessionID
	}

	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", claims.SessionID)
	}

	sess := Session{
		ID:        claims.SessionID,
		TenantID:  claims.TenantID,
		UserID:    claims.SubjectID,
		Role:      claims.Role,
		CreatedAt: claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	userKey := s.userKey(sess.TenantID, sess.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.ExpireAt(ctx, userKey, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns a live session
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.client.Del(ctx, s.sessionKey(sessionID))
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// IsActive reports whether sessionID is live and not revoked
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n == 1, nil
}

// Revoke ends a session. Revoking an unknown session is not an error.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.SRem(ctx, s.userKey(sess.TenantID, sess.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  sess.TenantID,
		"user_id":    sess.UserID,
		"session_id": sessionID,
	}).Info("session revoked")
	return nil
}

// RevokeAllForUser ends every session of a user in a tenant and returns how
// many live sessions were ended
func (s *Store) RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	userKey := s.userKey(tenantID, userID)

	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}

	var removed int64
	if len(keys) > 0 {
		removed, err = s.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
		}
	}
	if err := s.client.Del(ctx, userKey).Err(); err != nil {
		return int(removed), fmt.Errorf("failed to clear session index: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"user_id":   userID,
		"revoked":   removed,
	}).Info("user sessions revoked")
	return int(removed), nil
}

func (s *Store) sessionKey(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func (s *Store) userKey(tenantID, userID string) string {
	return fmt.Sprintf("%s:user:%s:%s", s.prefix, tenantID, userID)
}
