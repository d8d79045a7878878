package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore reads sessions written by the web tier into Redis.
// A session value looks like {"passport":{"user":"<account id>"}}.
type RedisSessionStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisSessionStore(client redis.Cmdable, prefix string) *RedisSessionStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "sess:"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

type storedSession struct {
	Passport struct {
		User string `json:"user"`
	} `json:"passport"`
}

func (s *RedisSessionStore) Lookup(ctx context.Context, sessionID string) (uuid.UUID, error) {
	raw, err := s.client.Get(ctx, s.prefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrSessionNotFound
		}
		return uuid.Nil, fmt.Errorf("read session: %w", err)
	}
	var sess storedSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return uuid.Nil, fmt.Errorf("decode session: %w", err)
	}
	if strings.TrimSpace(sess.Passport.User) == "" {
		return uuid.Nil, ErrSessionNotFound
	}
	accountID, err := uuid.Parse(sess.Passport.User)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid account id in session: %w", err)
	}
	return accountID, nil
}
