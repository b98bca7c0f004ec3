/*
Package lock provides a cross-process snapshot.Locker backed by Redis.

PURPOSE:
  The pipeline serializes passes with an in-process lock by default. When
  the API server and cmd/ingest run as separate processes they share this
  lock instead, so two passes never resolve the same run number.

PROTOCOL:
  acquire: SET <key> <token> NX PX <ttl>
  release: delete <key> only if it still holds <token> (Lua, atomic)

  The TTL bounds how long a crashed holder blocks others. A pass that
  outlives the TTL loses the lock; keep LOCK_TTL well above a pass.
*/
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/stockpulse/snapshot"
)

// DefaultKey is the Redis key guarding ingest passes.
const DefaultKey = "stockpulse:ingest:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a Redis lock.
type Options struct {
	Key string
	TTL time.Duration
	// Wait is how long Acquire retries before giving up. Zero fails fast.
	Wait time.Duration
	// Poll is the retry interval while waiting. Default 500ms.
	Poll time.Duration
}

// Redis implements snapshot.Locker.
type Redis struct {
	client redis.Cmdable
	opts   Options
	logger *slog.Logger
}

// NewRedis creates a lock on an existing client.
func NewRedis(client redis.Cmdable, opts Options, logger *slog.Logger) *Redis {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, opts: opts, logger: logger}
}

// Open parses a redis:// URL, checks connectivity and returns the lock
// together with the client to close on shutdown.
func Open(ctx context.Context, url string, opts Options, logger *slog.Logger) (*Redis, *redis.Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, opts, logger), client, nil
}

// Acquire takes the lock or returns snapshot.ErrLockHeld once Wait elapses.
func (l *Redis) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.Wait)

	for {
		ok, err := l.client.SetNX(ctx, l.opts.Key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: redis: %w", snapshot.ErrLockHeld, err)
		}
		if ok {
			l.logger.Debug("[Lock] acquired", "key", l.opts.Key)
			return func() { l.release(token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", snapshot.ErrLockHeld, l.opts.Key)
		}

		t := time.NewTimer(l.opts.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", snapshot.ErrLockHeld, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *Redis) release(token string) {
	// The caller's context may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{l.opts.Key}, token).Int()
	switch {
	case err != nil:
		l.logger.Error("[Lock] release failed", "key", l.opts.Key, "error", err)
	case n == 0:
		l.logger.Warn("[Lock] lock expired before release", "key", l.opts.Key)
	default:
		l.logger.Debug("[Lock] released", "key", l.opts.Key)
	}
}
