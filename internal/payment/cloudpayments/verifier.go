package cloudpayments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/netip"
	"net/url"
	"strings"

	"github.com/noah-isme/cloudpayments-webhook/internal/common"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

const (
	// HeaderContentHMAC signs the raw body.
	HeaderContentHMAC = "Content-HMAC"
	// HeaderXContentHMAC signs the URL-decoded body.
	HeaderXContentHMAC = "X-Content-HMAC"
)

// Verifier authenticates notifications against the merchant secret.
type Verifier struct {
	Secret         []byte
	SkipValidation bool
	Allowed        []netip.Prefix
}

// Sign returns base64(HMAC-SHA256(secret, body)).
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify returns nil when n is authentic. Errors wrap
// payment.ErrMalformedRequest or payment.ErrAuthentication and never carry
// the expected signature.
func (v Verifier) Verify(n payment.Notification) error {
	if len(n.RawBody) == 0 {
		return payment.Malformed("empty request body")
	}
	if err := v.checkSource(n.RemoteAddr); err != nil {
		return err
	}
	if v.SkipValidation {
		return nil
	}
	if strings.TrimSpace(n.Field("TransactionId")) == "" {
		return payment.Unauthenticated("TransactionId not provided")
	}

	if claimed := strings.TrimSpace(n.Header.Get(HeaderContentHMAC)); claimed != "" {
		return v.compare(claimed, n.RawBody)
	}
	if claimed := strings.TrimSpace(n.Header.Get(HeaderXContentHMAC)); claimed != "" {
		decoded, err := url.QueryUnescape(string(n.RawBody))
		if err != nil {
			return payment.Unauthenticated("body is not url-decodable: %v", err)
		}
		return v.compare(claimed, []byte(decoded))
	}
	return payment.Unauthenticated("signature header missing")
}

func (v Verifier) compare(claimed string, body []byte) error {
	expected := Sign(v.Secret, body)
	if !hmac.Equal([]byte(claimed), []byte(expected)) {
		return payment.Unauthenticated("request signature mismatch")
	}
	return nil
}

func (v Verifier) checkSource(remoteAddr string) error {
	if len(v.Allowed) == 0 {
		return nil
	}
	addr, ok := common.ParseAddr(remoteAddr)
	if !ok {
		return payment.Unauthenticated("unparseable source address %q", remoteAddr)
	}
	for _, prefix := range v.Allowed {
		if prefix.Contains(addr) {
			return nil
		}
	}
	return payment.Unauthenticated("source %s not allowed", addr)
}
