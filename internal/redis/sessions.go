package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
)

// Key patterns:
//   - session:{sid}         - Hash with admin_id and last_seen
//   - session:{sid}:pending - Hash with token and data (JSON StagedUpload)
//
// Both keys share the session's sliding TTL, so an expired session takes
// its staged upload with it.

// Session is an authenticated admin session
type Session struct {
	ID       string
	AdminID  uint
	LastSeen time.Time
}

// SessionStore keeps admin sessions and their staged uploads
type SessionStore struct {
	client *Client
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionStore creates a SessionStore with a sliding expiry of maxAge
func NewSessionStore(client *Client, maxAge time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		maxAge: maxAge,
		now:    time.Now,
	}
}

func sessionKey(sid string) string { return fmt.Sprintf("session:%s", sid) }
func pendingKey(sid string) string { return fmt.Sprintf("session:%s:pending", sid) }

// Create starts a new session for adminID
func (s *SessionStore) Create(ctx context.Context, adminID uint) (*Session, error) {
	sess := &Session{
		ID:       uuid.NewString(),
		AdminID:  adminID,
		LastSeen: s.now(),
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), map[string]interface{}{
		"admin_id":  sess.AdminID,
		"last_seen": sess.LastSeen.Unix(),
	})
	pipe.Expire(ctx, sessionKey(sess.ID), s.maxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Touch loads a session and slides its expiry. Unknown or expired sessions
// return an Unauthorized error.
func (s *SessionStore) Touch(ctx context.Context, sid string) (*Session, error) {
	if sid == "" {
		return nil, apperr.Unauthorized("session", "no session")
	}

	fields, err := s.client.rdb.HGetAll(ctx, sessionKey(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperr.Unauthorized("session", "session expired")
	}

	adminID, err := strconv.ParseUint(fields["admin_id"], 10, 64)
	if err != nil {
		return nil, apperr.Unauthorized("session", "session is corrupt")
	}
	lastSeen, _ := strconv.ParseInt(fields["last_seen"], 10, 64)
	now := s.now()
	if lastSeen > 0 && now.Sub(time.Unix(lastSeen, 0)) > s.maxAge {
		return nil, apperr.Unauthorized("session", "session expired")
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(sid), "last_seen", now.Unix())
	pipe.Expire(ctx, sessionKey(sid), s.maxAge)
	pipe.Expire(ctx, pendingKey(sid), s.maxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	return &Session{ID: sid, AdminID: uint(adminID), LastSeen: now}, nil
}

// Destroy removes a session and anything staged in it
func (s *SessionStore) Destroy(ctx context.Context, sid string) error {
	if err := s.client.rdb.Del(ctx, sessionKey(sid), pendingKey(sid)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// GetStaged returns the session's staged upload, or nil when there is none
func (s *SessionStore) GetStaged(ctx context.Context, sid string) (*models.StagedUpload, error) {
	data, err := s.client.rdb.HGet(ctx, pendingKey(sid), "data").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staged upload: %w", err)
	}

	var staged models.StagedUpload
	if err := json.Unmarshal([]byte(data), &staged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staged upload: %w", err)
	}
	return &staged, nil
}

// PutStaged replaces the session's staged upload
func (s *SessionStore) PutStaged(ctx context.Context, sid string, staged *models.StagedUpload) error {
	data, err := json.Marshal(staged)
	if err != nil {
		return fmt.Errorf("failed to marshal staged upload: %w", err)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.Del(ctx, pendingKey(sid))
	pipe.HSet(ctx, pendingKey(sid), map[string]interface{}{
		"token": staged.Token,
		"data":  string(data),
	})
	pipe.Expire(ctx, pendingKey(sid), s.maxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store staged upload: %w", err)
	}
	return nil
}

var clearStagedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ClearStaged removes the session's staged upload if it still carries
// token. An empty token clears unconditionally.
func (s *SessionStore) ClearStaged(ctx context.Context, sid string, token string) error {
	if token == "" {
		if err := s.client.rdb.Del(ctx, pendingKey(sid)).Err(); err != nil {
			return fmt.Errorf("failed to clear staged upload: %w", err)
		}
		return nil
	}

	if err := clearStagedScript.Run(ctx, s.client.rdb, []string{pendingKey(sid)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to clear staged upload: %w", err)
	}
	return nil
}
