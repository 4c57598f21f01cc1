package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ActorHeader identifies the caller of the SLA api.
const ActorHeader = "X-Actor-ID"

// Limiter is a token bucket shared through Redis so every api replica draws
// from the same bucket.
type Limiter struct {
	rdb    *redis.Client
	limit  int           // max tokens per window
	window time.Duration // window for limit
	prefix string
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source used for refills.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter allowing limit requests per window. prefix namespaces
// keys so several limiters can share one Redis.
func New(rdb *redis.Client, limit int, window time.Duration, prefix string, opts ...Option) *Limiter {
	if prefix == "" {
		prefix = "rl:"
	} else if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	l := &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	interval := l.window.Milliseconds() / int64(l.limit)
	if interval < 1 {
		interval = 1
	}
	res, err := l.rdb.Eval(ctx, luaScript, []string{l.prefix + key}, l.limit, interval, l.now().UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Middleware rejects requests once the bucket for keyFunc(c) is empty.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	retry := strconv.Itoa(int(l.window.Seconds()/float64(max(l.limit, 1))) + 1)
	return func(c *gin.Context) {
		key := keyFunc(c)
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Ctx(c.Request.Context()).Error().Err(err).Str("key", key).Msg("rate limit")
		}
		if err != nil || !ok {
			c.Header("Retry-After", retry)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": "rate_limited", "message": "too many requests"}})
			return
		}
		c.Next()
	}
}

// ByActor keys buckets by the acting user, falling back to the client IP for
// anonymous calls.
func ByActor(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(ActorHeader)); id != "" {
		return "actor:" + id
	}
	return "ip:" + c.ClientIP()
}

// luaScript keeps the remaining tokens and the last refill timestamp in a
// hash per key.
const luaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
else
  local add = math.floor((now - ts) / interval)
  if add > 0 then
    tokens = math.min(tokens + add, capacity)
    ts = ts + add * interval
  end
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, interval * capacity)
return allowed
`
