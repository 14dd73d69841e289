package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireLuaScript checks every key before incrementing any of them.
// KEYS are counter keys; ARGV holds (max, periodMS) pairs in the same order.
// Each window's TTL is set when its counter is created, so the window is
// anchored at the first admitted event like MemoryStore.
const acquireLuaScript = `
for i, key in ipairs(KEYS) do
    local max = tonumber(ARGV[(i - 1) * 2 + 1])
    local current = tonumber(redis.call("GET", key) or "0")
    if current >= max then
        local ttl = redis.call("PTTL", key)
        if ttl < 0 then ttl = tonumber(ARGV[(i - 1) * 2 + 2]) end
        return {0, i - 1, ttl}
    end
end

for i, key in ipairs(KEYS) do
    local newVal = redis.call("INCR", key)
    if newVal == 1 then
        redis.call("PEXPIRE", key, ARGV[(i - 1) * 2 + 2])
    end
end

return {1, -1, 0}
`

// RedisStore persists windows in Redis so throttling history survives
// restarts and is shared by every worker process.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	acquire *redis.Script
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  "governor:",
		acquire: redis.NewScript(acquireLuaScript),
	}
}

// NewRedisStoreFromURL connects to Redis and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("persisting rate windows in redis", "addr", opts.Addr)
	return NewRedisStore(client), nil
}

func (s *RedisStore) Acquire(ctx context.Context, _ time.Time, limits []Limit) (bool, int, time.Duration, error) {
	keys := make([]string, len(limits))
	args := make([]any, 0, len(limits)*2)
	for i, l := range limits {
		keys[i] = s.prefix + l.Key
		args = append(args, l.Max, l.Period.Milliseconds())
	}

	result, err := s.acquire.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("window acquire failed: %w", err)
	}
	if len(result) != 3 {
		return false, 0, 0, fmt.Errorf("window acquire: unexpected reply %v", result)
	}
	allowed, _ := result[0].(int64)
	blocked, _ := result[1].(int64)
	ttl, _ := result[2].(int64)
	if allowed == 1 {
		return true, -1, 0, nil
	}
	return false, int(blocked), time.Duration(ttl) * time.Millisecond, nil
}

func (s *RedisStore) Peek(ctx context.Context, _ time.Time, l Limit) (int, error) {
	n, err := s.client.Get(ctx, s.prefix+l.Key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("window peek failed: %w", err)
	}
	return n, nil
}
