package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/migrations"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// Dependencies holds the infrastructure clients shared by the API and the
// worker. DB is nil when orders live behind the remote backend; Redis and
// Tasks are nil when no REDIS_URL is configured.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Tasks     *asynq.Client
	Validator *validator.Validate

	closers []func()
}

// Open connects to every configured backing service. Name is reported as the
// Postgres application_name and the tracing service name.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, name string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger, Validator: common.NewValidator()}

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   name,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.TraceSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			d.onClose(func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			})
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := NewPool(ctx, cfg.DatabaseURL, name)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
		d.onClose(pool.Close)
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Redis = rdb
		d.onClose(func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		})

		opts, err := TaskRedisOpt(cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Tasks = asynq.NewClient(opts)
		d.onClose(func() { _ = d.Tasks.Close() })
	}
	return d, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Dependencies) onClose(fn func()) { d.closers = append(d.closers, fn) }

// Migrate applies pending schema migrations when a database is configured.
func (d *Dependencies) Migrate() error {
	if d.Config.DatabaseURL == "" {
		return nil
	}
	return migrations.Run(d.Config.DatabaseURL)
}

// NewPool opens a traced pgx pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL, name string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens an instrumented Redis client and verifies connectivity.
func NewRedis(ctx context.Context, redisURL string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// TaskRedisOpt converts a redis:// URL into asynq connection options.
func TaskRedisOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// PingDB and PingRedis back the readiness checks.
func (d *Dependencies) PingDB(ctx context.Context) error {
	if d.DB == nil {
		return errors.New("db not configured")
	}
	return d.DB.Ping(ctx)
}

func (d *Dependencies) PingRedis(ctx context.Context) error {
	if d.Redis == nil {
		return errors.New("redis not configured")
	}
	return d.Redis.Ping(ctx).Err()
}
