package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cloudpayments-webhook/internal/app"
	"github.com/noah-isme/cloudpayments-webhook/internal/common"
	"github.com/noah-isme/cloudpayments-webhook/internal/config"
	"github.com/noah-isme/cloudpayments-webhook/internal/health"
	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/ratelimit"
	"github.com/noah-isme/cloudpayments-webhook/internal/security"
	"github.com/noah-isme/cloudpayments-webhook/internal/widget"
)

const serviceName = "cloudpayments-webhook"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	}

	tracingEnabled := cfg.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(openCtx, cfg, logger, serviceName)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	triggers, err := deps.Triggers()
	if err != nil {
		logger.Fatal().Err(err).Msg("build triggers")
	}
	provider, err := deps.Provider(triggers)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cloudpayments provider")
	}

	webhook := payment.Webhook{
		Providers:    payment.NewRegistry(provider),
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
		Logger:       logger,
		Sink:         deps.AuditSink(),
	}
	checkout := widget.Widget{
		Provider:  provider.Name(),
		PublicID:  cfg.CloudPayments.PublicID,
		ScriptURL: cfg.WidgetScriptURL,
	}
	var limiterStore redis.UniversalClient
	if deps.Redis != nil {
		limiterStore = deps.Redis
	}
	widgetLimiter, err := ratelimit.New(cfg.WidgetRateLimit, limiterStore, "widget:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise widget rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)

	if cfg.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Dependencies: deps.ReadinessChecks()}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/webhooks/payment", webhook.Routes)

	r.Route("/widget", func(wr chi.Router) {
		wr.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins(cfg),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		wr.Use(security.Headers{
			EnableHSTS:    cfg.AppEnv == "production",
			ScriptOrigins: []string{security.OriginOf(cfg.WidgetScriptURL)},
		}.Middleware)
		wr.Use(ratelimit.Handler{
			Limiter: widgetLimiter,
			Key:     ratelimit.ByRemoteIP,
			OnError: func(err error) { logger.Warn().Err(err).Msg("widget rate limiter unavailable") },
		}.Middleware)
		wr.Get("/options", checkout.HandleOptions)
		wr.Get("/script", checkout.HandleScript)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	drain(srv, logger)
}

// drain fails readiness first so the balancer drains before connections close.
func drain(srv *http.Server, logger zerolog.Logger) {
	health.SetReady(false)
	logger.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
