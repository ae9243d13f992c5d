// Package redis implements the verification-session store on Redis so that
// sessions survive restarts and are shared across replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wowgifts/giftlink/internal/app/storage"
)

// DefaultSessionTTL bounds how long a verification remains usable before the
// claimant must verify again.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore records verified sessions as expiring Redis keys.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ storage.VerificationSessionStore = (*SessionStore)(nil)

// NewSessionStore wraps the given client. A non-positive ttl falls back to
// DefaultSessionTTL.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(giftID, sessionID string) string {
	return fmt.Sprintf("giftlink:verify:%s:%s", giftID, sessionID)
}

// MarkVerified stores the verified handle under the session key.
func (s *SessionStore) MarkVerified(ctx context.Context, giftID, sessionID, handle string) error {
	return s.client.Set(ctx, sessionKey(giftID, sessionID), handle, s.ttl).Err()
}

// IsVerified reports whether the session key exists and has not expired.
func (s *SessionStore) IsVerified(ctx context.Context, giftID, sessionID string) (bool, error) {
	err := s.client.Get(ctx, sessionKey(giftID, sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
