package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/h2non/gock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/app"
	"github.com/noah-isme/cloudpayments-webhook/internal/config"
	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment/cloudpayments"
)

const apiKey = "app-secret"

func baseConfig() *config.Config {
	return &config.Config{
		MetricsNamespace: "apptest",
		CloudPayments: config.CloudPayments{
			PublicID:        "pk_test",
			APIKey:          apiKey,
			ValidateRequest: true,
			StrictDecoding:  true,
		},
		DedupTTL:                   time.Hour,
		ForwardTimeout:             time.Second,
		ForwardBreakerMinRequests:  5,
		ForwardBreakerFailureRatio: 0.5,
		ForwardBreakerOpenFor:      time.Second,
	}
}

func open(t *testing.T, cfg *config.Config) (*app.Dependencies, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	deps, err := app.Open(context.Background(), cfg, obs.NewLoggerTo(&buf, "json", "info"), "app-test")
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	deps.Registerer = prometheus.NewRegistry()
	return deps, &buf
}

func completed() payment.Notification {
	body := url.Values{
		"TransactionId": {"555"},
		"Amount":        {"10.00"},
		"Currency":      {"RUB"},
		"InvoiceId":     {"inv-1"},
		"AccountId":     {"3"},
		"Status":        {"Completed"},
	}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/cloudpayments/pay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(cloudpayments.HeaderContentHMAC, cloudpayments.Sign([]byte(apiKey), []byte(body)))
	return payment.NewNotification(payment.EndpointPay, req, []byte(body))
}

func TestOpenWithoutServices(t *testing.T) {
	deps, buf := open(t, baseConfig())
	require.Nil(t, deps.Redis)
	require.Nil(t, deps.DB)
	require.Empty(t, deps.ReadinessChecks())

	triggers, err := deps.Triggers()
	require.NoError(t, err)
	provider, err := deps.Provider(triggers)
	require.NoError(t, err)

	out := provider.ProcessPaymentResult(context.Background(), completed())
	require.Equal(t, payment.OutcomeSuccess, out)
	require.Equal(t, 1, strings.Count(buf.String(), "payment event"))
}

func TestRedisEnablesDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	deps, buf := open(t, cfg)
	require.NotNil(t, deps.Redis)
	checks := deps.ReadinessChecks()
	require.Len(t, checks, 1)
	require.Equal(t, "redis", checks[0].Name)
	require.NoError(t, checks[0].Check(context.Background()))

	triggers, err := deps.Triggers()
	require.NoError(t, err)
	provider, err := deps.Provider(triggers)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.Equal(t, payment.OutcomeSuccess, provider.ProcessPaymentResult(context.Background(), completed()))
	}
	require.Equal(t, 1, strings.Count(buf.String(), "payment event"))
	require.True(t, mr.Exists("payment:seen:success:555"))
}

func TestOpenFailsOnUnreachableRedis(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"
	_, err := app.Open(context.Background(), cfg, obs.NewLoggerTo(&bytes.Buffer{}, "json", "info"), "app-test")
	require.Error(t, err)
}

func TestForwardIsOptional(t *testing.T) {
	deps, _ := open(t, baseConfig())
	fwd, err := deps.Forward()
	require.NoError(t, err)
	require.Nil(t, fwd)

	deps.Config.ForwardURL = "https://merchant.example.com/payments"
	deps.Config.ForwardSecret = "s"
	deps.Config.EnablePrometheus = true
	fwd, err = deps.Forward()
	require.NoError(t, err)
	require.NotNil(t, fwd)

	_, err = deps.WorkerTriggers()
	require.NoError(t, err)
}

func TestTaskRedisOptNeedsURL(t *testing.T) {
	_, err := app.TaskRedisOpt(&config.Config{})
	require.Error(t, err)

	opt, err := app.TaskRedisOpt(&config.Config{RedisURL: "redis://localhost:6379/2"})
	require.NoError(t, err)
	require.NotNil(t, opt)
}

func checkEvent() payment.Event {
	return payment.Event{
		Kind:          payment.KindCheck,
		Provider:      "CloudPayments",
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      "RUB",
		InvoiceID:     "inv-1",
		TransactionID: "777",
	}
}

func TestQueuedResultsStillForwardChecks(t *testing.T) {
	defer gock.Off()
	gock.New("https://merchant.example.com").
		Post("/payments").
		MatchHeader("X-Event-Kind", "check").
		Reply(http.StatusConflict)

	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.ForwardURL = "https://merchant.example.com/payments"
	cfg.ForwardSecret = "s"
	deps, _ := open(t, cfg)
	deps.TaskClient = asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = deps.TaskClient.Close() })

	triggers, err := deps.Triggers()
	require.NoError(t, err)

	// the merchant refuses the payment, so the check must be refused too
	require.Error(t, triggers.OnPaymentCheck(context.Background(), checkEvent()))
	require.True(t, gock.IsDone())
}

func TestQueuedResultsForwardApprovedChecks(t *testing.T) {
	defer gock.Off()
	gock.New("https://merchant.example.com").
		Post("/payments").
		MatchHeader("X-Event-Kind", "check").
		Reply(http.StatusOK)

	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.ForwardURL = "https://merchant.example.com/payments"
	cfg.ForwardSecret = "s"
	deps, _ := open(t, cfg)
	deps.TaskClient = asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = deps.TaskClient.Close() })

	triggers, err := deps.Triggers()
	require.NoError(t, err)
	require.NoError(t, triggers.OnPaymentCheck(context.Background(), checkEvent()))
	require.True(t, gock.IsDone())
}
