package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// slidingVoteWindow keeps one sorted-set member per admitted vote request,
// scored by its arrival time. Rejected requests are not recorded, so a
// client hammering the endpoint does not extend its own lockout.
//
// Returns {count, allowed, retryAfterMs}.
var slidingVoteWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, ARGV[4])
  redis.call("PEXPIRE", key, window)
  return {count + 1, 1, 0}
end
local retry = window
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {count, 0, retry}
`)

// VoteAllowance is the limiter's verdict for one vote request.
type VoteAllowance struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least one.
func (a VoteAllowance) RetryAfterSeconds() int {
	secs := int((a.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RedisVoteLimiter caps vote requests per account over a sliding window,
// shared by every replica.
type RedisVoteLimiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisVoteLimiter(client redis.Scripter, prefix string, perMinute int) *RedisVoteLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "votefest:rate_limit"
	}
	return &RedisVoteLimiter{
		client: client,
		prefix: prefix,
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *RedisVoteLimiter) key(accountID uuid.UUID) string {
	return fmt.Sprintf("%s:votes:%s", r.prefix, accountID)
}

// AllowVote records the request when it fits in the window.
func (r *RedisVoteLimiter) AllowVote(ctx context.Context, accountID uuid.UUID) (VoteAllowance, error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return VoteAllowance{Allowed: true}, nil
	}
	raw, err := slidingVoteWindow.Run(ctx, r.client,
		[]string{r.key(accountID)},
		r.now().UnixMilli(), r.window.Milliseconds(), r.limit, ulid.Make().String(),
	).Result()
	if err != nil {
		return VoteAllowance{}, err
	}
	return parseVoteAllowance(raw)
}

func parseVoteAllowance(raw any) (VoteAllowance, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return VoteAllowance{}, fmt.Errorf("unexpected vote limiter response shape: %T", raw)
	}
	var nums [3]int64
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return VoteAllowance{}, fmt.Errorf("unexpected vote limiter value %d type: %T", i, v)
		}
		nums[i] = n
	}
	allowance := VoteAllowance{Count: int(nums[0]), Allowed: nums[1] == 1}
	if !allowance.Allowed {
		allowance.RetryAfter = time.Duration(nums[2]) * time.Millisecond
	}
	return allowance, nil
}
