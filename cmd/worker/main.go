package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/cloudpayments-webhook/internal/app"
	"github.com/noah-isme/cloudpayments-webhook/internal/config"
	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/taskqueue"
)

const serviceName = "cloudpayments-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisOpt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("task queue configuration")
	}

	deps := &app.Dependencies{Config: cfg, Logger: logger}
	triggers, err := deps.WorkerTriggers()
	if err != nil {
		logger.Fatal().Err(err).Msg("build worker triggers")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{cfg.TaskQueueName: 1},
		Logger:          asynqLogger{logger: logger},
		ShutdownTimeout: 15 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	logger.Info().Str("queue", cfg.TaskQueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(taskqueue.NewServeMux(triggers)); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
