// Package store provides the backends behind the cache: Redis (the
// default, a separate network service) and the embedded LevelDB and SQLite
// stores.
package store

import (
	"fmt"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendRedis   = "redis"
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is one of BackendRedis, BackendLevelDB, BackendSQLite.
	Backend string

	// Redis
	Addr     string
	Password string
	DB       int
	Prefix   string

	// LevelDB and SQLite; empty means in-memory.
	Path string

	// Timeout bounds dialing and each network round trip.
	Timeout time.Duration
}

// DefaultOptions returns options for a local Redis.
func DefaultOptions() Options {
	return Options{
		Backend: BackendRedis,
		Addr:    "0.0.0.0:6379",
		Prefix:  DefaultRedisPrefix,
		Timeout: 2 * time.Second,
	}
}

var (
	_ cache.Store = (*Redis)(nil)
	_ cache.Store = (*LevelDB)(nil)
	_ cache.Store = (*SQLite)(nil)
)

// Open creates the configured backend. It does not check reachability;
// see Connect.
func Open(opts Options) (cache.Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		client := redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  opts.Timeout,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		})
		return NewRedis(client, opts.Prefix), nil
	case BackendLevelDB:
		return OpenLevelDB(opts.Path)
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
