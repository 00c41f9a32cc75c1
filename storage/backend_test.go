package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// backends lists every KeyValue implementation that should satisfy the same
// contract. Each constructor registers its own cleanup.
var backends = []struct {
	name string
	open func(t *testing.T) KeyValue
}{
	{name: "badger on disk", open: func(t *testing.T) KeyValue {
		return openBadger(t, t.TempDir())
	}},
	{name: "badger in memory", open: func(t *testing.T) KeyValue {
		return openBadger(t, InMemoryLocation)
	}},
	{name: "pebble on disk", open: func(t *testing.T) KeyValue {
		db, _ := openPebble(t, t.TempDir())
		return db
	}},
	{name: "pebble in memory", open: func(t *testing.T) KeyValue {
		db, _ := openPebble(t, InMemoryLocation)
		return db
	}},
	{name: "redis", open: func(t *testing.T) KeyValue {
		db, _ := openRedis(t)
		return db
	}},
}

func openBadger(t *testing.T, dir string) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(&KVConfig{StorageDirPath: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testClock is advanced by hand so expiry doesn't depend on sleeping.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func openPebble(t *testing.T, dir string) (*PebbleDB, *testClock) {
	t.Helper()
	db, err := NewPebbleDB(&KVConfig{StorageDirPath: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	clock := &testClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	db.now = clock.now
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}

func openRedis(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	db, err := NewRedisDB(&KVConfig{Backend: BackendRedis, RedisAddress: s.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, s
}

// scanAll collects a scan into a map of last key segment to value.
func scanAll(t *testing.T, kv KeyValue, prefix Key) map[string]string {
	t.Helper()
	got := map[string]string{}
	err := kv.Scan(context.Background(), prefix, func(e KVEntry) error {
		got[e.Key.Last()] = string(e.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return got
}

func TestBackends_MutateAndScan(t *testing.T) {
	ctx := context.Background()
	prefix := Key{"my", "example", "feed"}
	other := Key{"my2", "example", "feed"}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)

			res, err := kv.Mutate(ctx, []Mutation{
				SetMutation(prefix.Append("2"), []byte("two"), time.Hour),
				SetMutation(prefix.Append("1"), []byte("one"), time.Hour),
				SetMutation(other.Append("1"), []byte("elsewhere"), 0),
			})
			if err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if res.Mutations != 3 {
				t.Fatalf("want 3 mutations, got %d", res.Mutations)
			}

			want := map[string]string{"1": "one", "2": "two"}
			if got := scanAll(t, kv, prefix); !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}

			if err := kv.Delete(ctx, prefix.Append("1")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			want = map[string]string{"2": "two"}
			if got := scanAll(t, kv, prefix); !reflect.DeepEqual(got, want) {
				t.Fatalf("after delete got %v want %v", got, want)
			}

			// Deleting a key that doesn't exist is fine.
			if err := kv.Delete(ctx, prefix.Append("404")); err != nil {
				t.Fatalf("delete missing key: %v", err)
			}

			if _, err := kv.Mutate(ctx, []Mutation{
				DeleteMutation(prefix.Append("2")),
				SetMutation(prefix.Append("3"), []byte("three"), time.Hour),
			}); err != nil {
				t.Fatalf("mixed mutate: %v", err)
			}
			want = map[string]string{"3": "three"}
			if got := scanAll(t, kv, prefix); !reflect.DeepEqual(got, want) {
				t.Fatalf("after mixed batch got %v want %v", got, want)
			}

			want = map[string]string{"1": "elsewhere"}
			if got := scanAll(t, kv, other); !reflect.DeepEqual(got, want) {
				t.Fatalf("other namespace got %v want %v", got, want)
			}

			if err := kv.Cleanup(); err != nil {
				t.Fatalf("cleanup: %v", err)
			}
		})
	}
}

func TestBackends_ScanKeysAreDecoded(t *testing.T) {
	ctx := context.Background()
	prefix := Key{"ns", "feed"}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			ids := []string{"b", "a", "c*", "d?"}
			muts := make([]Mutation, len(ids))
			for i, id := range ids {
				muts[i] = SetMutation(prefix.Append(id), []byte(id), 0)
			}
			if _, err := kv.Mutate(ctx, muts); err != nil {
				t.Fatalf("mutate: %v", err)
			}

			var got []string
			err := kv.Scan(ctx, prefix, func(e KVEntry) error {
				if len(e.Key) != 3 || e.Key[0] != "ns" || e.Key[1] != "feed" {
					t.Errorf("unexpected key %v", e.Key)
				}
				got = append(got, e.Key.Last())
				return nil
			})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			sort.Strings(got)
			want := []string{"a", "b", "c*", "d?"}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v want %v", got, want)
			}
		})
	}
}

func TestBackends_ScanStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	prefix := Key{"ns"}
	stop := errors.New("stop")

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			if _, err := kv.Mutate(ctx, []Mutation{
				SetMutation(prefix.Append("1"), []byte("1"), 0),
				SetMutation(prefix.Append("2"), []byte("2"), 0),
			}); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			calls := 0
			err := kv.Scan(ctx, prefix, func(KVEntry) error {
				calls++
				return stop
			})
			if !errors.Is(err, stop) {
				t.Fatalf("want the callback error, got %v", err)
			}
			if calls != 1 {
				t.Fatalf("want 1 callback before stopping, got %d", calls)
			}
		})
	}
}

func TestBackends_EmptyMutate(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			res, err := kv.Mutate(context.Background(), nil)
			if err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if res.Mutations != 0 {
				t.Fatalf("want 0 mutations, got %d", res.Mutations)
			}
		})
	}
}

func TestBackends_UnsupportedMutationIsAtomic(t *testing.T) {
	ctx := context.Background()
	prefix := Key{"ns"}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			kv := b.open(t)
			_, err := kv.Mutate(ctx, []Mutation{
				SetMutation(prefix.Append("1"), []byte("1"), 0),
				{Op: MutationOp(42), Entry: KVEntry{Key: prefix.Append("2")}},
			})
			if err == nil {
				t.Fatal("expected an error for an unknown mutation")
			}
			if got := scanAll(t, kv, prefix); len(got) != 0 {
				t.Fatalf("a failed batch left records behind: %v", got)
			}
		})
	}
}

func TestPebbleDB_SimulatedExpiry(t *testing.T) {
	ctx := context.Background()
	db, clock := openPebble(t, InMemoryLocation)
	prefix := Key{"ns"}

	if _, err := db.Mutate(ctx, []Mutation{
		SetMutation(prefix.Append("short"), []byte("s"), time.Minute),
		SetMutation(prefix.Append("long"), []byte("l"), time.Hour),
		SetMutation(prefix.Append("forever"), []byte("f"), 0),
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	want := map[string]string{"long": "l", "forever": "f"}
	if got := scanAll(t, db, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if err := db.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	// After cleanup the expired record is gone for real, not just hidden.
	if _, closer, err := db.inner.Get(prefix.Append("short").Encode()); err == nil {
		closer.Close()
		t.Fatal("expected the expired record to be deleted")
	}

	clock.t = clock.t.Add(2 * time.Hour)
	want = map[string]string{"forever": "f"}
	if got := scanAll(t, db, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPebbleDB_CleanupKeepsConcurrentWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("writes a large number of records")
	}
	ctx := context.Background()
	db, clock := openPebble(t, InMemoryLocation)
	prefix := Key{"ns"}

	// Enough expired records that the cleanup scan is still running when the
	// write below arrives.
	const total = 50000
	for start := 0; start < total; start += 1000 {
		muts := make([]Mutation, 0, 1000)
		for i := start; i < start+1000; i++ {
			muts = append(muts, SetMutation(prefix.Append(fmt.Sprintf("%06d", i)), []byte("old"), time.Minute))
		}
		if _, err := db.Mutate(ctx, muts); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}
	clock.t = clock.t.Add(2 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- db.Cleanup() }()
	time.Sleep(20 * time.Millisecond)

	// Rewrite a key the cleanup pass saw as expired.
	if _, err := db.Mutate(ctx, []Mutation{
		SetMutation(prefix.Append("000000"), []byte("new"), 24*time.Hour),
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	want := map[string]string{"000000": "new"}
	if got := scanAll(t, db, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPebbleDB_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	prefix := Key{"ns"}

	db, err := NewPebbleDB(&KVConfig{StorageDirPath: dir, SyncWrites: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Mutate(ctx, []Mutation{SetMutation(prefix.Append("1"), []byte("one"), time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := NewPebbleDB(&KVConfig{StorageDirPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	want := map[string]string{"1": "one"}
	if got := scanAll(t, db2, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRedisDB_NativeExpiry(t *testing.T) {
	ctx := context.Background()
	db, s := openRedis(t)
	prefix := Key{"ns"}

	if _, err := db.Mutate(ctx, []Mutation{
		SetMutation(prefix.Append("short"), []byte("s"), time.Minute),
		SetMutation(prefix.Append("forever"), []byte("f"), 0),
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if ttl := s.TTL(string(prefix.Append("short").Encode())); ttl != time.Minute {
		t.Fatalf("want a one minute TTL, got %v", ttl)
	}

	s.FastForward(2 * time.Minute)
	want := map[string]string{"forever": "f"}
	if got := scanAll(t, db, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNewRedisDB_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()
	if _, err := NewRedisDB(&KVConfig{Backend: BackendRedis, RedisAddress: addr}); err == nil {
		t.Fatal("expected an error connecting to a stopped server")
	}
}

// We test Badger's TTL against the wall clock since it tracks expiry in whole
// seconds internally.
func TestBadgerDB_NativeExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real TTL to elapse")
	}
	ctx := context.Background()
	db := openBadger(t, InMemoryLocation)
	prefix := Key{"ns"}

	if _, err := db.Mutate(ctx, []Mutation{
		SetMutation(prefix.Append("short"), []byte("s"), time.Second),
		SetMutation(prefix.Append("long"), []byte("l"), time.Hour),
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	time.Sleep(2100 * time.Millisecond)

	want := map[string]string{"long": "l"}
	if got := scanAll(t, db, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBadgerDB_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	prefix := Key{"ns"}

	db, err := NewBadgerDB(&KVConfig{StorageDirPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Mutate(ctx, []Mutation{SetMutation(prefix.Append("1"), []byte("one"), time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := NewBadgerDB(&KVConfig{StorageDirPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	want := map[string]string{"1": "one"}
	if got := scanAll(t, db2, prefix); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNoOpDB(t *testing.T) {
	ctx := context.Background()
	db := &NoOpDB{}
	res, err := db.Mutate(ctx, []Mutation{SetMutation(Key{"a"}, []byte("b"), 0)})
	if err != nil || res.Mutations != 1 {
		t.Fatalf("got %v, %v", res, err)
	}
	if got := scanAll(t, db, Key{}); len(got) != 0 {
		t.Fatalf("the no-op database returned records: %v", got)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	tests := []struct {
		name string
		conf KVConfig
		want interface{}
	}{
		{name: "badger", conf: KVConfig{StorageDirPath: InMemoryLocation}, want: &BadgerDB{}},
		{name: "pebble", conf: KVConfig{Backend: BackendPebble, StorageDirPath: InMemoryLocation}, want: &PebbleDB{}},
		{name: "noop", conf: KVConfig{Backend: BackendNoOp}, want: &NoOpDB{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := Open(tt.conf)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer kv.Close()
			if reflect.TypeOf(kv) != reflect.TypeOf(tt.want) {
				t.Fatalf("got %T want %T", kv, tt.want)
			}
		})
	}

	if _, err := Open(KVConfig{Backend: "etcd"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
