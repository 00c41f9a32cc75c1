package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Number of keys requested per SCAN round trip.
const redisScanCount = 1000

// RedisDB implements KeyValue on a Redis server. TTLs are native and
// batches run inside MULTI/EXEC.
type RedisDB struct {
	client *redis.Client
}

// NewRedisDB connects to the server at conf.RedisAddress and checks that it
// answers. It is up to the caller to close the connection with Close().
func NewRedisDB(conf *KVConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddress,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("can't reach redis at %v: %v", conf.RedisAddress, err)
	}

	return &RedisDB{client: client}, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Scan walks the keyspace with SCAN and fetches each page with MGET. Keys that
// expire between the two calls are skipped.
func (db *RedisDB) Scan(ctx context.Context, prefix Key, fn func(KVEntry) error) error {
	match := escapeGlob(string(prefix.Encode())) + "*"
	var cursor uint64
	for {
		keys, next, err := db.client.Scan(ctx, cursor, match, redisScanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			vals, err := db.client.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				k, err := DecodeKey([]byte(keys[i]))
				if err != nil {
					return fmt.Errorf("can't decode a stored key: %v", err)
				}
				if err := fn(KVEntry{Key: k, Value: []byte(s)}); err != nil {
					return err
				}
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Mutate queues every mutation inside one MULTI/EXEC block.
func (db *RedisDB) Mutate(ctx context.Context, muts []Mutation) (CommitResult, error) {
	if len(muts) == 0 {
		return CommitResult{}, nil
	}
	for _, m := range muts {
		if m.Op != OpSet && m.Op != OpDelete {
			return CommitResult{}, fmt.Errorf("unsupported mutation %v", m.Op)
		}
	}
	cmds, err := db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range muts {
			k := string(m.Entry.Key.Encode())
			if m.Op == OpDelete {
				pipe.Del(ctx, k)
				continue
			}
			// A zero expiration keeps the key forever.
			pipe.Set(ctx, k, m.Entry.Value, m.Entry.TTL)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("transaction failed: %w", err)
	}
	for _, c := range cmds {
		if err := c.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return CommitResult{}, fmt.Errorf("transaction failed: %w", err)
		}
	}
	return CommitResult{Mutations: len(muts)}, nil
}

// Delete removes a single key.
func (db *RedisDB) Delete(ctx context.Context, key Key) error {
	return db.client.Del(ctx, string(key.Encode())).Err()
}

// Cleanup is a no-op since Redis evicts expired keys on its own.
func (db *RedisDB) Cleanup() error {
	return nil
}

// Close releases the connection pool.
func (db *RedisDB) Close() error {
	return db.client.Close()
}
