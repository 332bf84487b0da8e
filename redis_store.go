package hostchain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/karasz/hostchain/internal/log"
)

// DefaultRedisKey is the hash used when OpenRedisStore gets an empty key.
const DefaultRedisKey = "hostchain:hosts"

const (
	redisTimeout    = 5 * time.Second
	redisMaxRetries = 8
)

// redisStore keeps every record as a field of one Redis hash:
// field = address, value = "<seed>;<stored>".
type redisStore struct {
	rdb *redis.Client
	key string
}

// OpenRedisStore connects to the Redis server at addr and uses the hash key.
func OpenRedisStore(addr, key string) (Store, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable("ping redis", err)
	}
	return &redisStore{rdb: rdb, key: key}, nil
}

func redisValue(r Record) string {
	return r.Seed + fieldSep + strconv.FormatUint(r.Stored, 10)
}

func parseRedisValue(address, value string) (Record, error) {
	return ParseRecord(address + fieldSep + value)
}

// Load returns every well-formed field, ordered by address.
func (s *redisStore) Load() ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, unavailable("hgetall", err)
	}

	out := make([]Record, 0, len(all))
	for addr, v := range all {
		r, err := parseRedisValue(addr, v)
		if err != nil {
			log.Debug("skip host field", zap.String("key", s.key), zap.String("address", addr), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Append sets the field only if it does not exist.
func (s *redisStore) Append(r Record) error {
	if err := validRecord(r); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	ok, err := s.rdb.HSetNX(ctx, s.key, r.Address, redisValue(r)).Result()
	if err != nil {
		return unavailable("hsetnx", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHostExists, r.Address)
	}
	return nil
}

// Advance bumps the stored counter with an optimistic WATCH/MULTI
// transaction, retrying when another writer touched the hash.
func (s *redisStore) Advance(address string) (Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	var updated Record
	txf := func(tx *redis.Tx) error {
		v, err := tx.HGet(ctx, s.key, address).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNoSuchHost, address)
		}
		if err != nil {
			return unavailable("hget", err)
		}
		r, err := parseRedisValue(address, v)
		if err != nil {
			return err
		}
		r = r.next()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, address, redisValue(r))
			return nil
		})
		if err != nil {
			return err
		}
		updated = r
		return nil
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNoSuchHost) || errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrStorageUnavailable) {
				return Record{}, err
			}
			return Record{}, unavailable("advance", err)
		}
		return updated, nil
	}
	return Record{}, unavailable("advance", fmt.Errorf("gave up after %d conflicting transactions", redisMaxRetries))
}

// Purge deletes the hash.
func (s *redisStore) Purge() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Close closes the client.
func (s *redisStore) Close() error { return s.rdb.Close() }
