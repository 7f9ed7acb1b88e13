package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a SET NX lock for deployments where several hosts share one
// state backend. The TTL bounds how long a crashed holder blocks others.
type Redis struct {
	Client *redis.Client
	Key    string
	Token  string
	TTL    time.Duration
}

// NewRedis parses a redis:// URL.
func NewRedis(url, key, token string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return &Redis{Client: redis.NewClient(opts), Key: key, Token: token, TTL: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context) (func() error, error) {
	ok, err := r.Client.SetNX(ctx, r.Key, r.Token, r.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		holder, _ := r.Client.Get(ctx, r.Key).Result()
		return nil, fmt.Errorf("%w: redis key %s held by %q", ErrLocked, r.Key, holder)
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return releaseScript.Run(ctx, r.Client, []string{r.Key}, r.Token).Err()
	}, nil
}

func (r *Redis) Close() error { return r.Client.Close() }
