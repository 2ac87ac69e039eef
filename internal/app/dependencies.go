// Package app opens the optional backing services and composes the
// payment triggers shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/cloudpayments-webhook/internal/config"
	"github.com/noah-isme/cloudpayments-webhook/internal/health"
	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/kafkapub"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/pgstore"
)

// Dependencies holds the backing services enabled by configuration. Any of
// them may be nil.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Registerer prometheus.Registerer

	DB         *pgxpool.Pool
	Redis      *redis.Client
	TaskClient *asynq.Client
	Kafka      *kafka.Writer

	closers []func() error
}

// Open connects every configured service. On error whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, service string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger, Registerer: prometheus.DefaultRegisterer}
	if err := d.open(ctx, service); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) open(ctx context.Context, service string) error {
	cfg := d.Config
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		d.closers = append(d.closers, client.Close)
		if err := redisotel.InstrumentTracing(client); err != nil {
			d.Logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if cfg.EnablePrometheus {
			if err := redisotel.InstrumentMetrics(client); err != nil {
				d.Logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		d.Redis = client
	}

	if cfg.DatabaseURL != "" {
		if cfg.DatabaseAutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("parse database config: %w", err)
		}
		poolConfig.ConnConfig.Tracer = obs.QueryTracer{Component: "pgstore"}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = service
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		d.DB = pool
	}

	if cfg.TaskQueueEnabled {
		opt, err := TaskRedisOpt(cfg)
		if err != nil {
			return err
		}
		client := asynq.NewClient(opt)
		d.closers = append(d.closers, client.Close)
		d.TaskClient = client
	}

	if len(cfg.KafkaBrokers) > 0 {
		w := kafkapub.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		d.closers = append(d.closers, w.Close)
		d.Kafka = w
	}
	return nil
}

// TaskRedisOpt derives the asynq connection from REDIS_URL.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("task queue requires REDIS_URL")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}
	return opt, nil
}

// Close releases services in reverse order of opening.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Error().Err(err).Msg("close dependency")
		}
	}
	d.closers = nil
}

// ReadinessChecks returns the readiness checks for the stateful services in use.
func (d *Dependencies) ReadinessChecks() []health.Dependency {
	var checks []health.Dependency
	if d.Redis != nil {
		checks = append(checks, health.Dependency{Name: "redis", Check: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	if d.DB != nil {
		checks = append(checks, health.Dependency{Name: "postgres", Check: d.DB.Ping})
	}
	return checks
}
