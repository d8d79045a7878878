package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements only GET; any other call panics through the nil embed.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	err    error
	keys   []string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.keys = append(f.keys, key)
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch {
	case f.err != nil:
		cmd.SetErr(f.err)
	default:
		if v, ok := f.values[key]; ok {
			cmd.SetVal(v)
		} else {
			cmd.SetErr(redis.Nil)
		}
	}
	return cmd
}

func TestRedisSessionStore_Lookup(t *testing.T) {
	accountID := uuid.New()
	client := &fakeRedis{values: map[string]string{
		"sess:good":     `{"cookie":{},"passport":{"user":"` + accountID.String() + `"}}`,
		"sess:guest":    `{"cookie":{}}`,
		"sess:garbage":  `not json`,
		"sess:bad-user": `{"passport":{"user":"42"}}`,
	}}
	s := NewRedisSessionStore(client, "")

	got, err := s.Lookup(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, accountID, got)
	assert.Equal(t, "sess:good", client.keys[0])

	_, err = s.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Lookup(context.Background(), "guest")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Lookup(context.Background(), "garbage")
	assert.Error(t, err)

	_, err = s.Lookup(context.Background(), "bad-user")
	assert.Error(t, err)
}

func TestRedisSessionStore_BackendError(t *testing.T) {
	s := NewRedisSessionStore(&fakeRedis{err: errors.New("connection refused")}, "custom:")

	_, err := s.Lookup(context.Background(), "sid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
