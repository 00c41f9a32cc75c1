package feed

import (
	"context"
	"testing"
	"time"

	"github.com/ptgott/one-calendar/ical"
	"github.com/ptgott/one-calendar/storage"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	testPrefix = []string{"calendars", "team"}
	testInfo   = ical.Info{
		Name: "My Example Feed",
		URL:  "https://example.org",
	}
)

// testClock only moves when a test tells it to.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

// testEvent starts at testNow+start and, if end is non-zero, ends at
// testNow+end.
func testEvent(id string, start, end time.Duration) Event {
	e := Event{
		ID:      id,
		Start:   testNow.Add(start),
		Summary: "Event " + id,
	}
	if end != 0 {
		t := testNow.Add(end)
		e.End = &t
	}
	return e
}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

// recordingKV serves canned scan results and remembers every write. Any of
// the error fields make the matching method fail.
type recordingKV struct {
	storage.NoOpDB
	entries []storage.KVEntry
	muts    [][]storage.Mutation
	deletes []storage.Key
	closed  int

	scanErr   error
	mutateErr error
	deleteErr error
	closeErr  error
}

func (r *recordingKV) Scan(_ context.Context, _ storage.Key, fn func(storage.KVEntry) error) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	for _, e := range r.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *recordingKV) Mutate(_ context.Context, muts []storage.Mutation) (storage.CommitResult, error) {
	if r.mutateErr != nil {
		return storage.CommitResult{}, r.mutateErr
	}
	r.muts = append(r.muts, muts)
	return storage.CommitResult{Mutations: len(muts)}, nil
}

func (r *recordingKV) Delete(_ context.Context, key storage.Key) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletes = append(r.deletes, key)
	return nil
}

func (r *recordingKV) Close() error {
	r.closed++
	return r.closeErr
}

func newRecordingStore(t *testing.T, kv *recordingKV, clock Clock) *Store {
	t.Helper()
	s, err := New(context.Background(), kv, testPrefix, testInfo, WithClock(clock))
	require.NoError(t, err)
	return s
}

func memoryConfig() storage.KVConfig {
	return storage.KVConfig{
		Backend:        storage.BackendBadger,
		StorageDirPath: storage.InMemoryLocation,
	}
}

func openMemoryStore(t *testing.T, clock Clock) *Store {
	t.Helper()
	s, err := Open(context.Background(), memoryConfig(), testPrefix, testInfo, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
