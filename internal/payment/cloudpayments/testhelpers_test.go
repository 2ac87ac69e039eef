package cloudpayments_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment/cloudpayments"
)

const testSecret = "test-api-secret"

type recordingSink struct {
	mu      sync.Mutex
	entries []payment.Entry
}

func (s *recordingSink) Record(_ context.Context, e payment.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *recordingSink) bySeverity(sev payment.Severity) []payment.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Entry
	for _, e := range s.entries {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

type fakeTriggers struct {
	mu      sync.Mutex
	calls   []payment.Event
	err     error
	panicky bool
}

func (f *fakeTriggers) handle(ev payment.Event) error {
	f.mu.Lock()
	f.calls = append(f.calls, ev)
	f.mu.Unlock()
	if f.panicky {
		panic("downstream exploded")
	}
	return f.err
}

func (f *fakeTriggers) OnPaymentCheck(_ context.Context, ev payment.Event) error {
	return f.handle(ev)
}

func (f *fakeTriggers) OnPaymentSuccess(_ context.Context, ev payment.Event) error {
	return f.handle(ev)
}

func (f *fakeTriggers) OnPaymentFail(_ context.Context, ev payment.Event) error {
	return f.handle(ev)
}

func (f *fakeTriggers) kinds() []payment.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]payment.EventKind, 0, len(f.calls))
	for _, ev := range f.calls {
		out = append(out, ev.Kind)
	}
	return out
}

func validForm(overrides map[string]string) url.Values {
	form := url.Values{
		"TransactionId": {"1001"},
		"Amount":        {"150.50"},
		"Currency":      {"RUB"},
		"InvoiceId":     {"order-42"},
		"AccountId":     {"77"},
		"TestMode":      {"1"},
		"Status":        {"Completed"},
	}
	for k, v := range overrides {
		if v == "" {
			form.Del(k)
			continue
		}
		form.Set(k, v)
	}
	return form
}

func signedNotification(t *testing.T, endpoint payment.Endpoint, body string) payment.Notification {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/"+string(endpoint), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(cloudpayments.HeaderContentHMAC, cloudpayments.Sign([]byte(testSecret), []byte(body)))
	return payment.NewNotification(endpoint, req, []byte(body))
}

func newProvider(t *testing.T, triggers payment.Triggers, sink payment.Sink, mutate ...func(*cloudpayments.Config)) *cloudpayments.Provider {
	t.Helper()
	cfg := cloudpayments.Config{PublicID: "pk_test", APIKey: testSecret}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := cloudpayments.New(cfg, triggers, sink)
	require.NoError(t, err)
	return p
}
