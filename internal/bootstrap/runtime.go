// Package bootstrap wires configuration into a running comment engine: the
// selected transport, the optional Redis fan-out and the comment service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"quizthread/internal/cache"
	"quizthread/internal/config"
	"quizthread/internal/database"
	"quizthread/internal/mongostore"
	"quizthread/internal/notifications"
	"quizthread/internal/observability"
	"quizthread/internal/repository"
	"quizthread/internal/service"
	"quizthread/internal/transport"
	"quizthread/internal/transport/memory"

	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
)

// Runtime is an initialized engine. Close releases everything it opened.
type Runtime struct {
	Config    *config.Config
	Transport transport.Transport
	Comments  *service.CommentService
	Redis     *redis.Client

	cancel  context.CancelFunc
	closers []func(context.Context) error
}

// InitRuntime opens the transport named by cfg.Transport. Redis is optional;
// without it the SQL transport announces changes in-process only.
func InitRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	bg, cancel := context.WithCancel(context.Background())
	rt := &Runtime{Config: cfg, cancel: cancel}

	if cfg.RedisURL != "" {
		rt.Redis = cache.InitRedis(cfg.RedisURL)
		if rt.Redis != nil {
			rt.closers = append(rt.closers, func(context.Context) error { return cache.Close() })
		}
	}

	t, err := rt.openTransport(ctx, bg)
	if err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	rt.Transport = t
	rt.closers = append(rt.closers, func(context.Context) error { return t.Close() })

	var opts []service.Option
	if cfg.SanitizeHTML {
		opts = append(opts, service.WithSanitizer(bluemonday.StrictPolicy()))
	}
	rt.Comments = service.NewCommentService(t, opts...)

	observability.GlobalLogger.Info("runtime initialized",
		"transport", cfg.Transport, "redis", rt.Redis != nil, "sanitize_html", cfg.SanitizeHTML)
	return rt, nil
}

// openTransport builds the configured transport. Background feeds run on bg
// and stop when the runtime closes.
func (rt *Runtime) openTransport(ctx, bg context.Context) (transport.Transport, error) {
	cfg := rt.Config
	switch cfg.Transport {
	case config.TransportMemory, "":
		return memory.New(), nil

	case config.TransportSQL:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		repo := repository.NewCommentRepository(db, notifications.NewNotifier(rt.Redis))
		if err := repo.Start(bg); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("start thread subscriber: %w", err)
		}
		return repo, nil

	case config.TransportMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Disconnect)
		store := mongostore.New(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		if err := store.Start(bg); err != nil {
			// Standalone servers have no change streams; writes notify in-process.
			observability.GlobalLogger.Warn("mongo change stream unavailable, using local notifications", "error", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Close stops background feeds and releases resources in reverse order of opening.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.cancel()
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
