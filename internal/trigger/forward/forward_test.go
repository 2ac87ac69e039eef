package forward_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/resilience"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/forward"
)

const merchantURL = "https://merchant.example.com"

func event(kind payment.EventKind) payment.Event {
	return payment.Event{
		Kind:          kind,
		Provider:      "CloudPayments",
		Data:          map[string]any{"Status": "Completed"},
		Amount:        decimal.RequireFromString("250.00"),
		Currency:      "RUB",
		InvoiceID:     "inv-3",
		UserID:        4,
		TransactionID: "tx-88",
	}
}

func newTrigger(t *testing.T, breaker *resilience.Breaker) *forward.Trigger {
	t.Helper()
	tr, err := forward.New(merchantURL+"/payments/events", "shh", time.Second, breaker)
	require.NoError(t, err)
	tr.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	gock.InterceptClient(tr.Client)
	t.Cleanup(func() {
		gock.RestoreClient(tr.Client)
		gock.Off()
	})
	return tr
}

func TestForwardSignsAndPosts(t *testing.T) {
	tr := newTrigger(t, nil)
	var captured *http.Request
	var body []byte

	gock.New(merchantURL).
		Post("/payments/events").
		MatchHeader("Content-Type", "application/json").
		MatchHeader(forward.HeaderIdempotencyKey, "tx-88").
		MatchHeader(forward.HeaderEventKind, "success").
		MatchHeader(forward.HeaderTimestamp, "1700000000").
		AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
			captured = req
			raw, err := io.ReadAll(req.Body)
			body = raw
			return true, err
		}).
		Reply(http.StatusNoContent)

	require.NoError(t, tr.OnPaymentSuccess(context.Background(), event(payment.KindSuccess)))
	require.True(t, gock.IsDone())

	ts, err := strconv.ParseInt(captured.Header.Get(forward.HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	require.Equal(t, forward.ComputeSignature("shh", ts, payment.KindSuccess, body), captured.Header.Get(forward.HeaderSignature))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "success", decoded["kind"])
	require.Equal(t, "tx-88", decoded["transactionId"])
	require.Equal(t, "250", decoded["amount"])
}

func TestForwardNon2xxIsError(t *testing.T) {
	tr := newTrigger(t, nil)
	gock.New(merchantURL).
		Post("/payments/events").
		Reply(http.StatusConflict).
		BodyString("invoice closed")

	err := tr.OnPaymentCheck(context.Background(), event(payment.KindCheck))
	require.ErrorIs(t, err, forward.ErrRejected)
	require.Contains(t, err.Error(), "invoice closed")
}

func TestForwardBreakerFailsFast(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Hour)
	tr := newTrigger(t, breaker)
	gock.New(merchantURL).
		Post("/payments/events").
		Reply(http.StatusBadGateway)

	require.ErrorIs(t, tr.OnPaymentFail(context.Background(), event(payment.KindFail)), forward.ErrRejected)
	require.ErrorIs(t, tr.OnPaymentFail(context.Background(), event(payment.KindFail)), resilience.ErrOpenCircuit)
}

func TestNewRejectsUnsafeURL(t *testing.T) {
	for _, raw := range []string{"ftp://merchant", "http://merchant.example.com/x", "https://", "::"} {
		_, err := forward.New(raw, "s", 0, nil)
		require.Error(t, err, raw)
	}
	_, err := forward.New("http://localhost:9000/hook", "s", 0, nil)
	require.NoError(t, err)
}

func TestComputeSignatureDependsOnKind(t *testing.T) {
	body := []byte(`{"a":1}`)
	require.NotEqual(t,
		forward.ComputeSignature("k", 1, payment.KindSuccess, body),
		forward.ComputeSignature("k", 1, payment.KindFail, body))
	require.Len(t, forward.ComputeSignature("k", 1, payment.KindSuccess, body), 64)
}
