package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zenoss/zenoss-zep-sub000/internal/config"
	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// Factory opens per-backend queues over one shared connection.
type Factory struct {
	cfg   config.QueueConfig
	db    *sql.DB
	redis *redis.Client
}

// NewFactory connects to the store named by cfg.Type.
func NewFactory(ctx context.Context, cfg config.QueueConfig) (*Factory, error) {
	f := &Factory{cfg: cfg}
	switch cfg.Type {
	case config.QueueMemory, "":
	case config.QueueSQLite:
		db, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, zerrors.New(zerrors.ErrCodeQueueUnavailable, "open sqlite queue", err)
		}
		f.db = db
	case config.QueueRedis:
		rs, err := DialRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, zerrors.DefaultRetryConfig())
		if err != nil {
			return nil, err
		}
		f.redis = rs.client.(*redis.Client)
	default:
		return nil, zerrors.ConfigError(fmt.Sprintf("unknown queue type %q", cfg.Type), nil)
	}
	return f, nil
}

// Open returns the queue for backend id.
func (f *Factory) Open(id string) *WorkQueue {
	var store Store
	switch {
	case f.db != nil:
		store = NewSQLiteStore(f.db, id)
	case f.redis != nil:
		store = NewRedisStore(f.redis, f.cfg.Prefix+":"+id)
	default:
		store = NewMemoryStore()
	}
	return New(id, store,
		WithPollInterval(f.cfg.PollInterval),
		WithInProgressDuration(f.cfg.InProgressDuration))
}

// Close releases the shared connection.
func (f *Factory) Close() error {
	switch {
	case f.db != nil:
		return f.db.Close()
	case f.redis != nil:
		return f.redis.Close()
	}
	return nil
}
