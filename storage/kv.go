package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	units "github.com/docker/go-units"
)

// InMemoryLocation opens a backend that never touches the disk. Everything is
// lost on Close.
const InMemoryLocation = ":memory:"

// Backend names accepted by KVConfig.Backend.
const (
	BackendBadger = "badger"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendNoOp   = "noop"
)

// Reclaiming expired records is cheap, but there's no point doing it more
// often than this.
const minCleanupInterval = time.Second

const defaultCleanupInterval = 10 * time.Minute

// KVConfig contains settings specific to the database connection
type KVConfig struct {
	Backend        string `yaml:"backend" json:"backend"`
	StorageDirPath string `yaml:"storageDir" json:"storageDir"`
	RedisAddress   string `yaml:"redisAddress" json:"redisAddress"`
	RedisPassword  string `yaml:"redisPassword" json:"redisPassword"`
	RedisDB        int    `yaml:"redisDB" json:"redisDB"`
	// How often to physically remove expired records. Reads never depend
	// on this happening.
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
	// Badger value log file size in bytes. Zero keeps Badger's default.
	ValueLogFileSize int64 `yaml:"valueLogFileSize" json:"valueLogFileSize"`
	SyncWrites       bool  `yaml:"syncWrites" json:"syncWrites"`
}

// UnmarshalYAML parses the user-provided storage section. Durations use Go
// syntax ("10m") and sizes accept human units ("64MiB").
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)
	if err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	c.Backend = v["backend"]
	c.StorageDirPath = v["storageDir"]
	c.RedisAddress = v["redisAddress"]
	c.RedisPassword = v["redisPassword"]

	if db, ok := v["redisDB"]; ok {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("can't parse the redis database number: %v", err)
		}
		c.RedisDB = n
	}

	if ci, ok := v["cleanupInterval"]; ok {
		d, err := time.ParseDuration(ci)
		if err != nil {
			return fmt.Errorf("can't parse the cleanup interval as a duration: %v", err)
		}
		c.CleanupInterval = d
	}

	if vs, ok := v["valueLogFileSize"]; ok {
		n, err := units.RAMInBytes(vs)
		if err != nil {
			return fmt.Errorf("can't parse the value log file size: %v", err)
		}
		c.ValueLogFileSize = n
	}

	if sw, ok := v["syncWrites"]; ok {
		b, err := strconv.ParseBool(sw)
		if err != nil {
			return fmt.Errorf("can't parse syncWrites as a boolean: %v", err)
		}
		c.SyncWrites = b
	}

	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with default
// settings applied or returns an error due to an invalid configuration
func (c *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	out := *c
	if out.Backend == "" {
		out.Backend = BackendBadger
	}

	switch out.Backend {
	case BackendBadger, BackendPebble:
		if out.StorageDirPath == "" {
			return KVConfig{}, fmt.Errorf(
				"the %v backend needs a storageDir (use %q for an in-memory store)",
				out.Backend,
				InMemoryLocation,
			)
		}
	case BackendRedis:
		if out.RedisAddress == "" {
			return KVConfig{}, errors.New("the redis backend needs a redisAddress")
		}
	case BackendNoOp:
	default:
		return KVConfig{}, fmt.Errorf("unknown storage backend %q", out.Backend)
	}

	if out.CleanupInterval == 0 {
		out.CleanupInterval = defaultCleanupInterval
	}
	if out.CleanupInterval < minCleanupInterval {
		return KVConfig{}, fmt.Errorf("cleanup interval must be at least %v", minCleanupInterval)
	}
	if out.ValueLogFileSize < 0 {
		return KVConfig{}, errors.New("value log file size can't be negative")
	}

	return out, nil
}

// KeyValue exposes a common interface for the operations the feed store needs
// from an underlying storage layer.
//
// Implementations need to include connection logic in code to initialize
// a Store. Calling any method after Close is undefined.
type KeyValue interface {
	// Scan calls fn for every record stored under prefix. It is not a
	// snapshot: records written concurrently may or may not be seen. A non-nil
	// error from fn stops the scan and is returned as is.
	Scan(ctx context.Context, prefix Key, fn func(KVEntry) error) error
	// Mutate applies all mutations atomically. Either every mutation is
	// visible afterwards or none is.
	Mutate(ctx context.Context, muts []Mutation) (CommitResult, error)
	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// Cleanup performs routine physical deletion of expired records.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store. TTL is only
// meaningful on writes; zero means the record never expires.
type KVEntry struct {
	Key   Key
	Value []byte
	TTL   time.Duration
}

// MutationOp is the kind of change a Mutation makes.
type MutationOp int

const (
	OpSet MutationOp = iota
	OpDelete
)

func (op MutationOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Mutation is one element of an atomic batch. Value and TTL are ignored for
// deletes.
type Mutation struct {
	Op    MutationOp
	Entry KVEntry
}

// SetMutation is shorthand for an OpSet Mutation.
func SetMutation(key Key, value []byte, ttl time.Duration) Mutation {
	return Mutation{Op: OpSet, Entry: KVEntry{Key: key, Value: value, TTL: ttl}}
}

// DeleteMutation is shorthand for an OpDelete Mutation.
func DeleteMutation(key Key) Mutation {
	return Mutation{Op: OpDelete, Entry: KVEntry{Key: key}}
}

// CommitResult reports a successful atomic batch. Failed batches return an
// error instead; there is no partial success.
type CommitResult struct {
	Mutations int
}

// Open connects to the backend selected by conf. The caller owns the returned
// KeyValue and must Close it.
func Open(conf KVConfig) (KeyValue, error) {
	c, err := conf.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}

	switch c.Backend {
	case BackendPebble:
		return NewPebbleDB(&c)
	case BackendRedis:
		return NewRedisDB(&c)
	case BackendNoOp:
		return &NoOpDB{}, nil
	default:
		return NewBadgerDB(&c)
	}
}
