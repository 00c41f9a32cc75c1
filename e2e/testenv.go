package e2e

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ptgott/one-calendar/storage"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment.
type testEnvironmentConfig struct {
	backend  string
	feedName string
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment. Callers should create this via startTestEnvironment.
type testEnvironment struct {
	redis  *miniredis.Miniredis
	config appConfigOptions
}

// startTestEnvironment spins up whatever the selected backend needs. Everything
// is torn down automatically when the test ends.
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) *testEnvironment {
	t.Helper()
	te := &testEnvironment{
		config: appConfigOptions{
			Backend:  c.backend,
			FeedName: c.feedName,
		},
	}

	switch c.backend {
	case storage.BackendRedis:
		// Closed by miniredis on test cleanup
		te.redis = miniredis.RunT(t)
		te.config.RedisAddress = te.redis.Addr()
	default:
		te.config.StorageDir = t.TempDir()
	}

	return te
}
