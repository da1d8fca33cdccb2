package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, "postgres", c.StorageBackend)
	assert.Equal(t, "memory", c.CacheBackend)
	assert.Equal(t, time.Second, c.BackoffBase)
	assert.Equal(t, 30*time.Second, c.BackoffCap)
	assert.Equal(t, []string{"google_drive", "dropbox"}, c.Providers)
	assert.Equal(t, int64(10000), c.Budgets["google_drive"].Hourly)
	require.NoError(t, c.Validate())
}

func TestLoad_NoArgsUsesDefaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, c)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_JSONOverlaysOnlyPresentKeys(t *testing.T) {
	path := writeFile(t, "cfg.json", `{
		"endpoint_addr_grpc": "127.0.0.1:9090",
		"storage_backend": "memory",
		"listing_cache_ttl": "90s",
		"backoff_cap": 60000000000,
		"budgets": {"dropbox": {"hourly": 10, "daily": 100}}
	}`)

	c, err := Load([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", c.EndpointAddrGRPC)
	assert.Equal(t, "memory", c.StorageBackend)
	assert.Equal(t, 90*time.Second, c.ListingCacheTTL)
	assert.Equal(t, time.Minute, c.BackoffCap)
	assert.Equal(t, Budget{Hourly: 10, Daily: 100}, c.Budgets["dropbox"])
	// untouched
	assert.Equal(t, 5*time.Minute, c.URLCacheTTL)
	assert.Equal(t, int64(10000), c.Budgets["google_drive"].Hourly)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "cfg.toml", `
cache_backend = "redis"
redis_addr = "redis:6379"
sync_schedule = "@every 5m"
soft_delete_retention = "168h"
providers = ["s3"]

[budgets.s3]
rps = 2.5
burst = 5
`)

	c, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "redis", c.CacheBackend)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, "@every 5m", c.SyncSchedule)
	assert.Equal(t, 7*24*time.Hour, c.SoftDeleteRetention)
	assert.Equal(t, []string{"s3"}, c.Providers)
	assert.Equal(t, Budget{RPS: 2.5, Burst: 5}, c.Budgets["s3"])
}

func TestLoad_FlagsWinOverFile(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"endpoint_addr_grpc": "file:1", "sync_workers": 2}`)

	c, err := Load([]string{"-c", path, "-a", "flag:2", "-r", "cache:6379", "-p", "dropbox, s3", "-unrelated", "x"})
	require.NoError(t, err)

	assert.Equal(t, "flag:2", c.EndpointAddrGRPC)
	assert.Equal(t, 2, c.SyncWorkers)
	assert.Equal(t, "redis", c.CacheBackend)
	assert.Equal(t, "cache:6379", c.RedisAddr)
	assert.Equal(t, []string{"dropbox", "s3"}, c.Providers)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "nope.json")})
		require.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{ this is not valid json`)
		_, err := Load([]string{"-c", path})
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeFile(t, "cfg.json", `{"storage_backend": "mongo", "chunk_size": 1000}`)
		_, err := Load([]string{"-c", path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mongo")
		assert.Contains(t, err.Error(), "256KiB")
	})
}
