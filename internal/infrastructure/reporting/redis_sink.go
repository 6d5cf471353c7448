package reporting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

const (
	RedisModeStream = "stream"
	RedisModePubSub = "pubsub"

	defaultRedisTimeout = 5 * time.Second
)

type RedisConfig struct {
	URL     string
	Key     string
	Mode    string
	MaxLen  int64
	Timeout time.Duration
}

// RedisSink appends events to a stream (XADD) or publishes them on a channel.
type RedisSink struct {
	client  redis.UniversalClient
	key     string
	mode    string
	maxLen  int64
	timeout time.Duration
}

var _ ports.ReportingSink = (*RedisSink)(nil)

// NewRedisClient parses the URL without dialing; connection errors show up
// on the first Post.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errs.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

func NewRedisSink(client redis.UniversalClient, cfg RedisConfig) *RedisSink {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode != RedisModePubSub {
		mode = RedisModeStream
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "marketbot:events"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &RedisSink{client: client, key: key, mode: mode, maxLen: cfg.MaxLen, timeout: timeout}
}

func (s *RedisSink) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	if s == nil || s.client == nil {
		return false
	}

	data, err := encode(kind, payload)
	if err != nil {
		logging.Warn(ctx, "encode redis event failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}

	postCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch s.mode {
	case RedisModePubSub:
		err = s.client.Publish(postCtx, s.key, data).Err()
	default:
		args := &redis.XAddArgs{
			Stream: s.key,
			Values: map[string]any{"action": string(kind), "data": string(data)},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		err = s.client.XAdd(postCtx, args).Err()
	}
	if err != nil {
		logging.Warn(ctx, "redis event not delivered",
			slog.String("action", string(kind)),
			slog.String("mode", s.mode),
			slog.Any("err", errs.Loggable(err)),
		)
		return false
	}
	return true
}

func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
