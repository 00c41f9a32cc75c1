package storage

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// BadgerDB implements KeyValue and represents the application's connection
// to BadgerDB. Badger expires keys natively, so records written with a TTL
// stop showing up in scans once it elapses.
type BadgerDB struct {
	connection *badger.DB
}

// NewBadgerDB initializes the BadgerDB embedded database. It is up to the
// caller to close the database with Close().
func NewBadgerDB(conf *KVConfig) (*BadgerDB, error) {
	// Open the Badger database at dirPath.
	// See: https://dgraph.io/docs/badger/get-started/#opening-a-database
	var opts badger.Options
	if conf.StorageDirPath == InMemoryLocation {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(conf.StorageDirPath)
	}
	opts = opts.
		WithLogger(newBadgerLogger()).
		WithSyncWrites(conf.SyncWrites)
	if conf.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(conf.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open the db connection: %v", err)
	}

	return &BadgerDB{
		connection: db,
	}, nil
}

// Scan iterates over every live key under prefix in key order.
func (db *BadgerDB) Scan(ctx context.Context, prefix Key, fn func(KVEntry) error) error {
	p := prefix.Encode()
	// See: https://dgraph.io/docs/badger/get-started/#prefix-scans
	return db.connection.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k, err := DecodeKey(item.KeyCopy(nil))
			if err != nil {
				return fmt.Errorf("can't decode a stored key: %v", err)
			}
			// We copy values rather than return them directly because
			// item.Value() is undefined behavior outside a transaction.
			v, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("can't copy the value from the database: %v", err)
			}
			if err := fn(KVEntry{Key: k, Value: v}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Mutate applies muts in a single read-write transaction.
func (db *BadgerDB) Mutate(ctx context.Context, muts []Mutation) (CommitResult, error) {
	if len(muts) == 0 {
		return CommitResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	err := db.connection.Update(func(txn *badger.Txn) error {
		for _, m := range muts {
			k := m.Entry.Key.Encode()
			switch m.Op {
			case OpSet:
				e := badger.NewEntry(k, m.Entry.Value)
				if m.Entry.TTL > 0 {
					e = e.WithTTL(m.Entry.TTL)
				}
				if err := txn.SetEntry(e); err != nil {
					return fmt.Errorf("could not set the KV pair: %v", err)
				}
			case OpDelete:
				if err := txn.Delete(k); err != nil {
					return fmt.Errorf("could not delete the key: %v", err)
				}
			default:
				return fmt.Errorf("unsupported mutation %v", m.Op)
			}
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("transaction failed: %w", err)
	}
	return CommitResult{Mutations: len(muts)}, nil
}

// Delete removes key in its own transaction.
func (db *BadgerDB) Delete(ctx context.Context, key Key) error {
	_, err := db.Mutate(ctx, []Mutation{DeleteMutation(key)})
	return err
}

// Cleanup performs BadgerDB's garbage collection routine with the
// recommended discardRatio.
//
// See: https://pkg.go.dev/github.com/dgraph-io/badger/v3#DB.RunValueLogGC
//
// This is the only time old records are actually removed from the value log.
func (db *BadgerDB) Cleanup() error {
	var discardRatio float64 = .5
	err := db.connection.RunValueLogGC(discardRatio)
	// If the GC determines that it can't rewrite anything, don't worry the
	// caller--just skip it. The same goes for in-memory databases, which
	// have no value log.
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Close tears down the database connection. You should defer this.
func (db *BadgerDB) Close() error {
	if err := db.connection.Close(); err != nil {
		return fmt.Errorf("could not close the database: %v", err)
	}
	return nil
}
