package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ptgott/one-calendar/ical"
	"github.com/ptgott/one-calendar/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

// Store is the ordered, expiring collection of events for one feed. Every
// method first hides events that are no longer live according to the Store's
// Clock.
//
// Once closed, a Store keeps answering reads with an empty feed, while writes
// and rendering return ErrInvalidState. Reads on a closed Store carry no
// meaning; callers should not treat the empty view as the feed's contents.
type Store struct {
	kv     storage.KeyValue
	prefix storage.Key
	info   ical.Info
	clock  Clock
	lang   language.Tag
	log    zerolog.Logger
	cache  *eventCache
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, e.g., in tests.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger used for load and expiry messages.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithLanguage selects the collation used to order event IDs. The default is
// the root collation.
func WithLanguage(tag language.Tag) Option {
	return func(s *Store) {
		s.lang = tag
	}
}

// New loads every event stored under prefix in kv and returns a Store that
// is ready to use. The Store takes ownership of kv: it is closed along with
// the Store, or right away if loading fails.
//
// Records that can't be decoded are logged and left alone. Expired events are
// hidden but not deleted.
func New(ctx context.Context, kv storage.KeyValue, prefix []string, info ical.Info, opts ...Option) (*Store, error) {
	s := &Store{
		kv:     kv,
		prefix: storage.Key(prefix).Append(),
		info:   info,
		clock:  SystemClock,
		lang:   language.Und,
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newEventCache(s.prefix, newKeyOrdering(s.lang))

	err := kv.Scan(ctx, s.prefix, func(en storage.KVEntry) error {
		s.load(en)
		return nil
	})
	if err != nil {
		if cerr := kv.Close(); cerr != nil {
			s.log.Error().Err(cerr).Msg("can't close the storage layer after a failed load")
		}
		return nil, &StorageError{Op: "open", Err: err}
	}

	loaded := s.cache.len()
	hidden := s.cache.applyExpiry(s.clock.Now())
	s.log.Debug().
		Str("prefix", s.prefix.String()).
		Int("loaded", loaded).
		Int("expired", hidden).
		Msg("opened the event store")
	return s, nil
}

// load adds a single scanned record to the cache.
func (s *Store) load(en storage.KVEntry) {
	// Other feeds can be nested below ours
	if len(en.Key) != len(s.prefix)+1 {
		return
	}

	var e Event
	if err := json.Unmarshal(en.Value, &e); err != nil {
		s.log.Warn().Err(err).Str("key", en.Key.String()).Msg("skipping a record that isn't an event")
		return
	}
	if e.ID != en.Key.Last() {
		s.log.Warn().
			Str("key", en.Key.String()).
			Str("id", e.ID).
			Msg("skipping an event stored under the wrong key")
		return
	}
	if err := e.Validate(); err != nil {
		s.log.Warn().Err(err).Str("key", en.Key.String()).Msg("skipping an invalid event")
		return
	}
	s.cache.upsert(e)
}

// Open connects to the storage layer described by conf and loads the feed
// under prefix. See New.
func Open(ctx context.Context, conf storage.KVConfig, prefix []string, info ical.Info, opts ...Option) (*Store, error) {
	kv, err := storage.Open(conf)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	return New(ctx, kv, prefix, info, opts...)
}

// With opens a Store, passes it to fn and closes it however fn returns,
// panics included. An error from fn takes precedence over one from Close.
func With(ctx context.Context, conf storage.KVConfig, prefix []string, info ical.Info, fn func(*Store) error, opts ...Option) (err error) {
	s, err := Open(ctx, conf, prefix, info, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// expire hides events that are no longer live and returns the time it
// checked against.
func (s *Store) expire() time.Time {
	now := s.clock.Now()
	if n := s.cache.applyExpiry(now); n > 0 {
		s.log.Debug().Int("count", n).Msg("hid expired events")
	}
	return now
}

func (s *Store) key(id string) storage.Key {
	return s.prefix.Append(id)
}

// Get returns a copy of the event with the given ID, if it's live.
func (s *Store) Get(id string) (Event, bool) {
	s.expire()
	return s.cache.get(id)
}

// GetAll returns copies of every live event, ordered by ID.
func (s *Store) GetAll() []Event {
	s.expire()
	return s.cache.snapshot()
}

// Has reports whether a live event with the given ID exists.
func (s *Store) Has(id string) bool {
	s.expire()
	return s.cache.has(id)
}

// Len is the number of live events.
func (s *Store) Len() int {
	s.expire()
	return s.cache.len()
}

// Add writes events in a single atomic batch. If any ID is already in the
// feed, or appears twice in events, Add returns a *DuplicateEventError and
// writes nothing. Events that are already over are dropped silently.
func (s *Store) Add(ctx context.Context, events ...Event) error {
	if s.closed {
		return ErrInvalidState
	}
	now := s.expire()

	var (
		pending []Event
		muts    []storage.Mutation
		seen    = make(map[string]struct{}, len(events))
	)
	for _, in := range events {
		if err := in.Validate(); err != nil {
			return err
		}
		e := in.Clone()
		if s.cache.has(e.ID) {
			return &DuplicateEventError{ID: e.ID}
		}
		if _, ok := seen[e.ID]; ok {
			return &DuplicateEventError{ID: e.ID}
		}
		seen[e.ID] = struct{}{}

		ttl := TTL(e, now)
		if ttl <= 0 {
			s.log.Debug().Str("id", e.ID).Msg("not adding an event that is already over")
			continue
		}
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("can't encode event %q: %v", e.ID, err)
		}
		muts = append(muts, storage.SetMutation(s.key(e.ID), b, ttl))
		pending = append(pending, e)
	}

	if len(muts) == 0 {
		return nil
	}
	if _, err := s.kv.Mutate(ctx, muts); err != nil {
		return &StorageError{Op: "add", Err: err}
	}
	for _, e := range pending {
		s.cache.upsert(e)
	}
	return nil
}

// Remove deletes the event with the given ID. It returns false, and touches
// nothing, if there is no such live event.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	if s.closed {
		return false, ErrInvalidState
	}
	s.expire()
	if !s.cache.has(id) {
		return false, nil
	}
	if err := s.kv.Delete(ctx, s.key(id)); err != nil {
		return false, &StorageError{Op: "remove", Err: err}
	}
	s.cache.remove(id)
	return true, nil
}

// RemoveAll deletes every live event in one atomic batch. Only events this
// Store knows about are deleted: anything written to the same namespace by
// another process since the Store was opened survives.
func (s *Store) RemoveAll(ctx context.Context) (storage.CommitResult, error) {
	if s.closed {
		return storage.CommitResult{}, ErrInvalidState
	}
	s.expire()

	ids := s.cache.ids()
	if len(ids) == 0 {
		return storage.CommitResult{}, nil
	}
	muts := make([]storage.Mutation, len(ids))
	for i, id := range ids {
		muts[i] = storage.DeleteMutation(s.key(id))
	}
	res, err := s.kv.Mutate(ctx, muts)
	if err != nil {
		return storage.CommitResult{}, &StorageError{Op: "remove all", Err: err}
	}
	for _, id := range ids {
		s.cache.remove(id)
	}
	return res, nil
}

// Serialize renders the live events as an iCalendar document, ordered by ID.
func (s *Store) Serialize() (string, error) {
	var b strings.Builder
	if _, err := s.WriteTo(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// WriteTo renders the feed to w. It implements io.WriterTo.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	if s.closed {
		return 0, ErrInvalidState
	}
	now := s.expire()

	snap := s.cache.snapshot()
	events := make([]ical.Event, len(snap))
	for i, e := range snap {
		events[i] = e.toICal()
	}

	cw := &countingWriter{w: w}
	err := ical.Write(cw, s.info, events, now)
	return cw.n, err
}

// Close releases the storage layer and empties the cache. Closing a closed
// Store does nothing.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache = newEventCache(s.prefix, s.cache.order)
	if err := s.kv.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
