package config

import (
	"flag"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/flagx"
)

var ownFlags = []string{"-a", "-d", "-s", "-k", "-m", "-r", "-l", "-i", "-w", "-p"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   provider token encryption passphrase
//	-m string   storage backend (postgres | memory)
//	-r string   Redis address; switches the cache backend to redis
//	-l string   log level
//	-i string   sync schedule (cron spec, e.g. "@every 30m")
//	-w int      sync workers
//	-p string   enabled providers, comma separated
//
// Args are filtered with flagx.FilterArgs first so flags owned by other
// components never collide.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, ownFlags)

	fs := flag.NewFlagSet("gophsync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.TokenPassphrase, "k", config.TokenPassphrase, "token encryption passphrase")
	fs.StringVar(&config.StorageBackend, "m", config.StorageBackend, "storage backend")
	redisAddr := fs.String("r", "", "redis address")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.SyncSchedule, "i", config.SyncSchedule, "sync schedule")
	fs.IntVar(&config.SyncWorkers, "w", config.SyncWorkers, "sync workers")
	providers := fs.String("p", strings.Join(config.Providers, ","), "enabled providers")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *redisAddr != "" {
		config.RedisAddr = *redisAddr
		config.CacheBackend = "redis"
	}
	config.Providers = splitList(*providers)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
