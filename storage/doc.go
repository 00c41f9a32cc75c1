package storage

// storage contains the KeyValue interface for working with a persistent key/
// value store, as well as implementations for BadgerDB, Pebble and Redis.
// Note that the storage package isn't designed to represent _what_ is stored
// in the database, and deals only in segmented keys and opaque binary values.
// Expiry annotations are computed by callers and honored on a best-effort
// basis: a backend may keep returning a record for some time after its TTL
// has elapsed.
