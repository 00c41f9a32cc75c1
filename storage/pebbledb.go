package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble has no native TTL. Every value is stored behind an 8-byte big-endian
// deadline in unix nanoseconds; zero means the record never expires.
const deadlineLen = 8

// PebbleDB implements KeyValue on top of Pebble. Expired records are hidden
// from scans immediately and physically deleted by Cleanup.
type PebbleDB struct {
	// Writers share the lock. Cleanup holds it exclusively from its scan
	// through its commit so that it never deletes a record rewritten in
	// between.
	mu        sync.RWMutex
	inner     *pebble.DB
	writeOpts *pebble.WriteOptions
	now       func() time.Time
}

// NewPebbleDB opens or creates a Pebble database at conf.StorageDirPath. It is
// up to the caller to close the database with Close().
func NewPebbleDB(conf *KVConfig) (*PebbleDB, error) {
	if conf.StorageDirPath == "" {
		return nil, errors.New("pebble: a storage directory is required")
	}

	po := &pebble.Options{}
	dir := conf.StorageDirPath
	if dir == InMemoryLocation {
		po.FS = vfs.NewMem()
		dir = ""
	}

	inner, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("can't open the db connection: %v", err)
	}

	wo := pebble.NoSync
	if conf.SyncWrites {
		wo = pebble.Sync
	}

	return &PebbleDB{
		inner:     inner,
		writeOpts: wo,
		now:       time.Now,
	}, nil
}

func (db *PebbleDB) wrap(value []byte, ttl time.Duration) []byte {
	var deadline int64
	if ttl > 0 {
		deadline = db.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, deadlineLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(deadline))
	copy(buf[deadlineLen:], value)
	return buf
}

// unwrap splits a stored value into its payload and whether it has expired
// at now.
func unwrap(stored []byte, now time.Time) ([]byte, bool, error) {
	if len(stored) < deadlineLen {
		return nil, false, errors.New("stored value is shorter than its expiry header")
	}
	deadline := int64(binary.BigEndian.Uint64(stored[:deadlineLen]))
	expired := deadline != 0 && deadline <= now.UnixNano()
	return stored[deadlineLen:], expired, nil
}

func (db *PebbleDB) newPrefixIter(prefix []byte) (*pebble.Iterator, error) {
	return db.inner.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
}

// Scan iterates over every unexpired key under prefix in key order.
func (db *PebbleDB) Scan(ctx context.Context, prefix Key, fn func(KVEntry) error) error {
	it, err := db.newPrefixIter(prefix.Encode())
	if err != nil {
		return err
	}
	defer it.Close()

	now := db.now()
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := it.ValueAndErr()
		if err != nil {
			return err
		}
		v, expired, err := unwrap(raw, now)
		if err != nil {
			return fmt.Errorf("can't read the value for %q: %v", it.Key(), err)
		}
		if expired {
			continue
		}
		k, err := DecodeKey(it.Key())
		if err != nil {
			return fmt.Errorf("can't decode a stored key: %v", err)
		}
		// The iterator owns its buffers; hand out copies.
		if err := fn(KVEntry{Key: k, Value: append([]byte(nil), v...)}); err != nil {
			return err
		}
	}
	return it.Error()
}

// Mutate applies muts in a single Pebble batch.
func (db *PebbleDB) Mutate(ctx context.Context, muts []Mutation) (CommitResult, error) {
	if len(muts) == 0 {
		return CommitResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	b := db.inner.NewBatch()
	defer b.Close()

	for _, m := range muts {
		k := m.Entry.Key.Encode()
		var err error
		switch m.Op {
		case OpSet:
			err = b.Set(k, db.wrap(m.Entry.Value, m.Entry.TTL), nil)
		case OpDelete:
			err = b.Delete(k, nil)
		default:
			err = fmt.Errorf("unsupported mutation %v", m.Op)
		}
		if err != nil {
			return CommitResult{}, err
		}
	}
	if err := b.Commit(db.writeOpts); err != nil {
		return CommitResult{}, fmt.Errorf("batch commit failed: %w", err)
	}
	return CommitResult{Mutations: len(muts)}, nil
}

// Delete removes a key using a small internal batch.
func (db *PebbleDB) Delete(ctx context.Context, key Key) error {
	_, err := db.Mutate(ctx, []Mutation{DeleteMutation(key)})
	return err
}

// Cleanup deletes every record whose deadline has passed.
func (db *PebbleDB) Cleanup() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	it, err := db.inner.NewIter(nil)
	if err != nil {
		return err
	}
	b := db.inner.NewBatch()
	defer b.Close()

	now := db.now()
	for it.First(); it.Valid(); it.Next() {
		raw, err := it.ValueAndErr()
		if err != nil {
			it.Close()
			return err
		}
		_, expired, err := unwrap(raw, now)
		if err != nil || !expired {
			continue
		}
		if err := b.Delete(it.Key(), nil); err != nil {
			it.Close()
			return err
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(db.writeOpts)
}

// Close closes the Pebble database.
func (db *PebbleDB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}
