// redis.go
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"passing.thoughts/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps one session's thoughts in Redis. Order lives in a sorted
// set scored by a per-session sequence; bodies live in a hash. All keys are
// prefixed with the session id and deleted on Close.
type RedisStore struct {
	client  *redis.Client
	session string
}

func NewRedisStore(options *redis.Options, session string) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &RedisStore{client: client, session: session}, nil
}

// KEYS: order, data, seq. ARGV: id, encoded thought.
var addScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
		return 0
	end
	local seq = redis.call('INCR', KEYS[3])
	redis.call('ZADD', KEYS[1], seq, ARGV[1])
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	return 1
`)

func (r *RedisStore) Add(ctx context.Context, thought models.Thought) (bool, error) {
	data, err := encode(thought)
	if err != nil {
		return false, err
	}

	keys := []string{r.orderKey(), r.dataKey(), r.seqKey()}
	n, err := addScript.Run(ctx, r.client, keys, thought.ID, data).Int()
	if err != nil {
		return false, r.wrap(err)
	}
	return n == 1, nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, r.orderKey(), id)
		pipe.HDel(ctx, r.dataKey(), id)
		return nil
	})
	if err != nil {
		return false, r.wrap(err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisStore) List(ctx context.Context) ([]models.Thought, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, r.wrap(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.dataKey(), ids...).Result()
	if err != nil {
		return nil, r.wrap(err)
	}

	thoughts := make([]models.Thought, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// removed between ZRANGE and HMGET
			continue
		}
		thought, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		thoughts = append(thoughts, thought)
	}
	return thoughts, nil
}

func (r *RedisStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delErr := r.client.Del(ctx, r.orderKey(), r.dataKey(), r.seqKey()).Err()
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	if delErr != nil && !errors.Is(delErr, redis.ErrClosed) {
		return delErr
	}
	return nil
}

func (r *RedisStore) wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("redis: %w", err)
}

// Helpers

func (r *RedisStore) orderKey() string { return "thoughts:" + r.session + ":order" }
func (r *RedisStore) dataKey() string  { return "thoughts:" + r.session + ":data" }
func (r *RedisStore) seqKey() string   { return "thoughts:" + r.session + ":seq" }

func encode(thought models.Thought) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(thought); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (models.Thought, error) {
	var thought models.Thought
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&thought); err != nil {
		return models.Thought{}, err
	}
	return thought, nil
}
