package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"go-trip-recorder/trip"
)

// DefaultRedisPrefix namespaces the keys written by Redis.
const DefaultRedisPrefix = "trips:"

// Record and index are written by one script so neither exists without the
// other. The index is written first: a wrong-typed key aborts the script
// before the record lands. Scripts return 0 when the existence check fails.
var (
	addScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)
	updateScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)
)

// Redis is a key-value backing on a Redis server. Records live in one hash
// keyed by trip id, with a sorted set indexing ids by start time.
type Redis struct {
	client *redis.Client
	owned  bool
	prefix string
	codec  codec

	mu     sync.Mutex
	closed bool
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Prefix            string
	EarthRadiusMeters float64
	Logger            *slog.Logger
	// CloseClient makes Close also close the client.
	CloseClient bool
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	return &Redis{
		client: client,
		owned:  opts.CloseClient,
		prefix: opts.Prefix,
		codec:  newCodec(opts.EarthRadiusMeters, opts.Logger),
	}
}

func (r *Redis) recordsKey() string { return r.prefix + "records" }
func (r *Redis) indexKey() string   { return r.prefix + "by_start" }

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.owned {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

func (r *Redis) Add(ctx context.Context, t trip.Trip) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := checkID(t.ID); err != nil {
		return err
	}
	data, err := r.codec.encode(t)
	if err != nil {
		return err
	}

	added, err := r.write(ctx, addScript, t, data)
	if err != nil {
		return writeFailed(fmt.Errorf("add trip %q: %w", t.ID, err))
	}
	if !added {
		return fmt.Errorf("add trip %q: %w", t.ID, ErrDuplicateID)
	}
	return nil
}

// write runs script over the record and index keys for t.
func (r *Redis) write(ctx context.Context, script *redis.Script, t trip.Trip, data []byte) (bool, error) {
	n, err := script.Run(ctx, r.client,
		[]string{r.recordsKey(), r.indexKey()},
		t.ID, data, strconv.FormatInt(t.StartedAtMs, 10),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Get(ctx context.Context, id string) (trip.Trip, error) {
	if err := r.checkOpen(); err != nil {
		return trip.Trip{}, err
	}
	data, err := r.client.HGet(ctx, r.recordsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return trip.Trip{}, fmt.Errorf("get trip %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return trip.Trip{}, readFailed(fmt.Errorf("get trip %q: %w", id, err))
	}
	t, ok := r.codec.decode(id, data)
	if !ok {
		return trip.Trip{}, fmt.Errorf("get trip %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (r *Redis) Update(ctx context.Context, id string, t trip.Trip) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if t.ID != id {
		return writeFailed(fmt.Errorf("update trip %q: record id is %q", id, t.ID))
	}
	data, err := r.codec.encode(t)
	if err != nil {
		return err
	}

	updated, err := r.write(ctx, updateScript, t, data)
	if err != nil {
		return writeFailed(fmt.Errorf("update trip %q: %w", id, err))
	}
	if !updated {
		return fmt.Errorf("update trip %q: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, r.recordsKey(), id)
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return writeFailed(fmt.Errorf("delete trip %q: %w", id, err))
	}
	if removed.Val() == 0 {
		return fmt.Errorf("delete trip %q: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.recordsKey(), r.indexKey()).Err(); err != nil {
		return writeFailed(fmt.Errorf("clear trips: %w", err))
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]trip.Trip, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, readFailed(fmt.Errorf("list trip ids: %w", err))
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := r.client.HMGet(ctx, r.recordsKey(), ids...).Result()
	if err != nil {
		return nil, readFailed(fmt.Errorf("list trips: %w", err))
	}

	trips := make([]trip.Trip, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.codec.logger.Warn("dropping dangling trip index entry", "id", ids[i])
			continue
		}
		if t, ok := r.codec.decode(ids[i], []byte(s)); ok {
			trips = append(trips, t)
		}
	}
	sortTrips(trips)
	return trips, nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	if err := r.checkOpen(); err != nil {
		return Stats{}, err
	}
	records, err := r.client.HGetAll(ctx, r.recordsKey()).Result()
	if err != nil {
		return Stats{}, readFailed(fmt.Errorf("trip stats: %w", err))
	}
	var st Stats
	for id, raw := range records {
		t, ok := r.codec.decode(id, []byte(raw))
		if !ok {
			continue
		}
		st.TripCount++
		st.TotalPoints += len(t.Points)
		st.Bytes += int64(len(raw))
	}
	return st, nil
}
