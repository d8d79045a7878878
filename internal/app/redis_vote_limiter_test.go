package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRecorder answers EvalSha with a canned reply and keeps the arguments.
type scriptRecorder struct {
	redis.Scripter
	reply any
	keys  []string
	args  []interface{}
}

func (s *scriptRecorder) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = keys
	s.args = args
	return redis.NewCmdResult(s.reply, nil)
}

func TestParseVoteAllowance(t *testing.T) {
	allowance, err := parseVoteAllowance([]interface{}{int64(3), int64(1), int64(0)})
	require.NoError(t, err)
	assert.True(t, allowance.Allowed)
	assert.Equal(t, 3, allowance.Count)
	assert.Zero(t, allowance.RetryAfter)

	allowance, err = parseVoteAllowance([]interface{}{int64(60), int64(0), int64(1500)})
	require.NoError(t, err)
	assert.False(t, allowance.Allowed)
	assert.Equal(t, 1500*time.Millisecond, allowance.RetryAfter)
	assert.Equal(t, 2, allowance.RetryAfterSeconds())

	_, err = parseVoteAllowance("nope")
	require.Error(t, err)

	_, err = parseVoteAllowance([]interface{}{"1", int64(1), int64(0)})
	require.Error(t, err)
}

func TestVoteAllowance_RetryAfterSecondsFloor(t *testing.T) {
	assert.Equal(t, 1, VoteAllowance{}.RetryAfterSeconds())
	assert.Equal(t, 60, VoteAllowance{RetryAfter: time.Minute}.RetryAfterSeconds())
}

func TestRedisVoteLimiter_PassesWindowAndLimit(t *testing.T) {
	rec := &scriptRecorder{reply: []interface{}{int64(61), int64(0), int64(42000)}}
	limiter := NewRedisVoteLimiter(rec, "  votefest:rate_limit: ", 60)
	limiter.now = func() time.Time { return time.UnixMilli(1_000_000) }
	account := uuid.New()

	allowance, err := limiter.AllowVote(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, allowance.Allowed)
	assert.Equal(t, 42, allowance.RetryAfterSeconds())

	require.Equal(t, []string{"votefest:rate_limit:votes:" + account.String()}, rec.keys)
	require.Len(t, rec.args, 4)
	assert.EqualValues(t, 1_000_000, rec.args[0])
	assert.EqualValues(t, 60_000, rec.args[1])
	assert.EqualValues(t, 60, rec.args[2])
	assert.NotEmpty(t, rec.args[3])
}

func TestRedisVoteLimiter_AllowsWithoutClientOrLimit(t *testing.T) {
	allowance, err := NewRedisVoteLimiter(nil, "", 10).AllowVote(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, allowance.Allowed)

	rec := &scriptRecorder{}
	allowance, err = NewRedisVoteLimiter(rec, "", 0).AllowVote(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, allowance.Allowed)
	assert.Nil(t, rec.keys)
}
