package feed

// feed maintains the events of a single calendar feed. A Store loads every
// event saved under a namespace prefix into an ordered in-memory cache, hides
// events whose end (or start, for events without one) has passed, and keeps
// the cache and the storage layer in step on every write. The cache is the
// only source of truth for reads: records the storage layer has not yet
// reclaimed are masked, not returned.
//
// A Store has no internal locking. Callers that share one between goroutines,
// like the HTTP server, need to serialize access themselves.
