// Package bus wraps the Redis-compatible message bus behind the narrow
// capability interface the body actually needs: blocking pop, push,
// stream read/append, range scan, and key/value with TTL.
package bus

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/obslog"
)

// Fixed stream/list names.
const (
	StreamChatGeneral     = "chat:general"
	StreamChatSynchronous = "chat:synchronous"
	StreamActionLog       = "volition:action_log"
	StreamHeartbeat       = "volition:heartbeat"
	StreamSocialDigests   = "volition:social_digests"
	StreamKillSwitch      = "volition:kill_switch"
)

func InboxList(agent string) string    { return "inbox:" + agent }
func InternalQueue(agent string) string { return "internal:" + agent }
func StatusKey(agent string) string    { return "status:" + agent }
func LockKey(channel string) string    { return "lock:" + channel }

// Bus is the capability surface consumed by the scheduler, journal, and toolbox.
type Bus interface {
	Push(ctx context.Context, list string, payload string) error
	BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error)
	NonBlockingPop(ctx context.Context, list string) (string, bool, error)

	StreamAppend(ctx context.Context, stream string, fields map[string]any) (string, error)
	StreamRead(ctx context.Context, streams map[string]string, block time.Duration) (map[string][]Entry, error)
	StreamRange(ctx context.Context, stream string, start, end string, count int64) ([]Entry, error)
	StreamRevRange(ctx context.Context, stream string, start, end string, count int64) ([]Entry, error)

	SetNXPX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error

	Close() error
}

// Entry is a stream record with its id.
type Entry struct {
	ID     string
	Fields map[string]any
}

type redisBus struct {
	client *redis.Client
	log    zerolog.Logger
	retry  retryPolicy
}

type retryPolicy struct {
	attempts int
	base     time.Duration
}

// New dials the bus client. It does not block on connectivity; failures
// surface on first use as BusTransient-classified errors.
func New(cfg config.BusConfig) Bus {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisBus{
		client: client,
		log:    obslog.For("bus"),
		retry:  retryPolicy{attempts: max(1, cfg.RetryAttempts), base: cfg.RetryBase},
	}
}

func (b *redisBus) Close() error { return b.client.Close() }

// withRetry is the exponential-backoff-with-jitter wrapper every bus
// operation runs through. Permanent errors (auth, malformed command) are not
// retried.
func (b *redisBus) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < b.retry.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == b.retry.attempts-1 {
			break
		}
		backoff := b.retry.base * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
		sleep := backoff/2 + jitter/2
		b.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("sleep", sleep).Msg("bus call retrying")
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.log.Error().Err(err).Str("op", op).Msg("bus call failed after retries")
	return err
}

func (b *redisBus) Push(ctx context.Context, list string, payload string) error {
	return b.withRetry(ctx, "push", func() error {
		return b.client.LPush(ctx, list, payload).Err()
	})
}

func (b *redisBus) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	var val string
	err := b.withRetry(ctx, "blockingpop", func() error {
		res, err := b.client.BLPop(ctx, timeout, list).Result()
		if err == redis.Nil {
			val = ""
			return nil
		}
		if err != nil {
			return err
		}
		if len(res) == 2 {
			val = res[1]
		}
		return nil
	})
	return val, err
}

func (b *redisBus) NonBlockingPop(ctx context.Context, list string) (string, bool, error) {
	var val string
	var ok bool
	err := b.withRetry(ctx, "nonblockingpop", func() error {
		res, err := b.client.LPop(ctx, list).Result()
		if err == redis.Nil {
			ok = false
			return nil
		}
		if err != nil {
			return err
		}
		val, ok = res, true
		return nil
	})
	return val, ok, err
}

func (b *redisBus) StreamAppend(ctx context.Context, stream string, fields map[string]any) (string, error) {
	var id string
	err := b.withRetry(ctx, "streamappend", func() error {
		res, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields}).Result()
		if err != nil {
			return err
		}
		id = res
		return nil
	})
	return id, err
}

func (b *redisBus) StreamRead(ctx context.Context, streams map[string]string, block time.Duration) (map[string][]Entry, error) {
	args := make([]string, 0, len(streams)*2)
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	for _, n := range names {
		args = append(args, n)
	}
	for _, n := range names {
		args = append(args, streams[n])
	}

	out := make(map[string][]Entry)
	err := b.withRetry(ctx, "streamread", func() error {
		res, err := b.client.XRead(ctx, &redis.XReadArgs{Streams: args, Block: block, Count: 100}).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		for _, s := range res {
			entries := make([]Entry, 0, len(s.Messages))
			for _, m := range s.Messages {
				entries = append(entries, Entry{ID: m.ID, Fields: m.Values})
			}
			out[s.Stream] = entries
		}
		return nil
	})
	return out, err
}

func (b *redisBus) StreamRange(ctx context.Context, stream string, start, end string, count int64) ([]Entry, error) {
	var out []Entry
	err := b.withRetry(ctx, "streamrange", func() error {
		res, err := b.client.XRangeN(ctx, stream, start, end, count).Result()
		if err != nil {
			return err
		}
		out = make([]Entry, 0, len(res))
		for _, m := range res {
			out = append(out, Entry{ID: m.ID, Fields: m.Values})
		}
		return nil
	})
	return out, err
}

func (b *redisBus) StreamRevRange(ctx context.Context, stream string, start, end string, count int64) ([]Entry, error) {
	var out []Entry
	err := b.withRetry(ctx, "streamrevrange", func() error {
		res, err := b.client.XRevRangeN(ctx, stream, start, end, count).Result()
		if err != nil {
			return err
		}
		out = make([]Entry, 0, len(res))
		for _, m := range res {
			out = append(out, Entry{ID: m.ID, Fields: m.Values})
		}
		return nil
	})
	return out, err
}

func (b *redisBus) SetNXPX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := b.withRetry(ctx, "setnxpx", func() error {
		res, err := b.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		ok = res
		return nil
	})
	return ok, err
}

func (b *redisBus) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	var ok bool
	err := b.withRetry(ctx, "get", func() error {
		res, err := b.client.Get(ctx, key).Result()
		if err == redis.Nil {
			ok = false
			return nil
		}
		if err != nil {
			return err
		}
		val, ok = res, true
		return nil
	})
	return val, ok, err
}

func (b *redisBus) Del(ctx context.Context, key string) error {
	return b.withRetry(ctx, "del", func() error {
		return b.client.Del(ctx, key).Err()
	})
}

func (b *redisBus) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.withRetry(ctx, "setex", func() error {
		return b.client.Set(ctx, key, value, ttl).Err()
	})
}

// IsTransient classifies bus errors as BusTransient (retryable) vs
// BusPermanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "i/o timeout", "timeout", "READONLY", "EOF", "broken pipe", "connection reset"} {
		if containsFold(msg, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(s, substr string) int {
	sl, subl := len(s), len(substr)
	if subl == 0 {
		return 0
	}
	for i := 0; i+subl <= sl; i++ {
		if equalFold(s[i:i+subl], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
