package storage

import "context"

// NoOpDB is used when we need to avoid touching the storage layer while still
// preserving our interactions with an abstract database, e.g., to render a
// one-off feed that should leave nothing behind.
//
// Scans never find anything and writes are accepted but discarded, so a
// feed.Store on top of a NoOpDB behaves like a fresh in-memory feed that is
// forgotten on Close.
type NoOpDB struct{}

// Scan finds nothing.
func (n *NoOpDB) Scan(context.Context, Key, func(KVEntry) error) error {
	return nil
}

// Mutate reports success without storing anything.
func (n *NoOpDB) Mutate(_ context.Context, muts []Mutation) (CommitResult, error) {
	return CommitResult{Mutations: len(muts)}, nil
}

// Delete always succeeds since there is nothing to delete.
func (n *NoOpDB) Delete(context.Context, Key) error {
	return nil
}

// Cleanup always returns nil in order to prevent retries or panics, since we
// want to keep the program humming along without touching the storage layer.
func (n *NoOpDB) Cleanup() error {
	return nil
}

// Close is no-op
func (n *NoOpDB) Close() error {
	return nil
}
