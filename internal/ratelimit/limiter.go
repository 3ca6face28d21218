package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/weiawesome/melo-live/pkg/log"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	Limit      int
	RetryAfter time.Duration
}

// Options configures the sliding window limiter.
type Options struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// slidingWindowScript admits an event atomically: expired entries are
// dropped, the window population is counted, and the event is recorded only
// when the window has room. Member values come from an INCR counter so two
// events in the same millisecond stay distinct.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)

	if current < limit then
		local counter = redis.call('INCR', key .. ':counter')
		redis.call('ZADD', key, now, now .. ':' .. counter)
		local expire_seconds = math.ceil(window_ms / 1000)
		redis.call('EXPIRE', key, expire_seconds)
		redis.call('EXPIRE', key .. ':counter', expire_seconds)
		return {1, limit - current - 1, 0}
	else
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		local reset_at = 0
		if oldest and #oldest >= 2 then
			reset_at = tonumber(oldest[2]) + window_ms
		end
		return {0, 0, reset_at}
	end
`)

// SlidingWindowLimiter enforces per (connection, event kind) sliding windows
// in Redis. When Redis is unreachable it degrades to a process-local window
// so a store outage cannot take event handling down with it.
type SlidingWindowLimiter struct {
	client   *redis.Client
	opts     Options
	local    *localWindow
	degraded atomic.Bool
}

// NewSlidingWindowLimiter creates a Redis-backed sliding window limiter.
func NewSlidingWindowLimiter(client *redis.Client, opts Options) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		opts:   opts,
		local:  newLocalWindow(opts.Limit, opts.Window),
	}
}

func (l *SlidingWindowLimiter) key(connectionID, eventKind string) string {
	return fmt.Sprintf("%s:ratelimit:%s:%s", l.opts.Prefix, connectionID, eventKind)
}

// Allow checks whether the connection may emit another event of this kind.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, connectionID, eventKind string) (Result, error) {
	now := time.Now()
	key := l.key(connectionID, eventKind)

	result, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		now.UnixMilli(),
		now.Add(-l.opts.Window).UnixMilli(),
		l.opts.Limit,
		l.opts.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		if l.degraded.CompareAndSwap(false, true) {
			pkglog.L().Warn().Err(err).Msg("rate limiter degraded to process-local window")
		}
		return l.local.Allow(key, now), nil
	}
	if l.degraded.CompareAndSwap(true, false) {
		pkglog.L().Info().Msg("rate limiter recovered, back on shared window")
	}

	if len(result) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script response length: %d", len(result))
	}

	resetAt := now.Add(l.opts.Window)
	if result[2] > 0 {
		resetAt = time.UnixMilli(result[2])
	}

	return Result{
		Allowed:    result[0] == 1,
		Remaining:  int(result[1]),
		ResetAt:    resetAt,
		Limit:      l.opts.Limit,
		RetryAfter: l.opts.Window,
	}, nil
}

// Reset clears the window for one (connection, event kind) pair, in Redis
// and in the local fallback.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, connectionID, eventKind string) error {
	key := l.key(connectionID, eventKind)
	l.local.Forget(key)
	return l.client.Del(ctx, key, key+":counter").Err()
}

// Degraded reports whether the limiter is currently on its local fallback.
func (l *SlidingWindowLimiter) Degraded() bool {
	return l.degraded.Load()
}
