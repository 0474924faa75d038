package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/go-redis/redis/v8"
)

const (
	redisIDsKey  = "provenance:ids"
	redisDocsKey = "provenance:docs"
)

// pushScript stores the document, pushes its id and drops whatever falls
// out of the window, atomically.
var pushScript = redis.NewScript(`
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[1], ARGV[1])
local retain = tonumber(ARGV[3])
local dropped = redis.call("LRANGE", KEYS[1], retain, -1)
redis.call("LTRIM", KEYS[1], 0, retain - 1)
for _, old in ipairs(dropped) do
	redis.call("HDEL", KEYS[2], old)
end
return dropped
`)

// RedisStore is a bounded fallback tier holding the most recent records.
type RedisStore struct {
	client  *redis.Client
	retain  int
	onEvict EvictionHook
}

// NewRedisStore connects to the server at url (redis://...) and verifies it
// answers a ping.
func NewRedisStore(url string, retain int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping failed: %v", ErrArchiveUnavailable, err)
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	logger.L.Info("Redis fallback archive connected", "addr", opts.Addr, "retain", retain)
	return &RedisStore{client: client, retain: retain}, nil
}

func (s *RedisStore) Name() string { return "redis" }

// OnEvict registers h to receive the ids trimmed out of the window. Call it
// before the store is shared.
func (s *RedisStore) OnEvict(h EvictionHook) { s.onEvict = h }

func (s *RedisStore) Save(ctx context.Context, rec ArchivedProvenance) error {
	doc, err := jsonString(rec)
	if err != nil {
		return err
	}
	dropped, err := pushScript.Run(ctx, s.client, []string{redisIDsKey, redisDocsKey}, rec.ID, doc, s.retain).StringSlice()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if len(dropped) > 0 {
		logger.L.Warn("Fallback archive full, evicted unpromoted records", "tier", s.Name(), "retain", s.retain, "ids", dropped)
		if s.onEvict != nil {
			s.onEvict(s.Name(), dropped)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (ArchivedProvenance, error) {
	doc, err := s.client.HGet(ctx, redisDocsKey, id).Result()
	if err == redis.Nil {
		return ArchivedProvenance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return ArchivedProvenance{}, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return decodeRecord([]byte(doc))
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]ArchivedProvenance, error) {
	ids, err := s.client.LRange(ctx, redisIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if len(ids) == 0 {
		return []ArchivedProvenance{}, nil
	}
	docs, err := s.client.HMGet(ctx, redisDocsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	records := make([]ArchivedProvenance, 0, len(docs))
	for i, d := range docs {
		str, ok := d.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			logger.L.Warn("Skipping unreadable redis fallback record", "id", ids[i], "error", err)
			continue
		}
		records = append(records, rec)
	}
	return filterInMemory(records, f), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, redisIDsKey, 0, id)
		removed = pipe.HDel(ctx, redisDocsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
