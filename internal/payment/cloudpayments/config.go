package cloudpayments

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultName is the provider name used in routes, events and logs.
const DefaultName = "CloudPayments"

// Config holds the merchant integration settings.
type Config struct {
	Name     string
	PublicID string `validate:"required"`
	// APIKey is the HMAC secret. It is never sent anywhere.
	APIKey string `validate:"required"`
	// SkipValidation disables signature checks for relays that cannot keep
	// the original request bytes. Empty bodies and the IP allowlist are still
	// enforced. Never enable it on an internet-facing endpoint.
	SkipValidation bool
	// AllowedIPs lists source IPs or CIDRs; empty means any source.
	AllowedIPs []string `validate:"omitempty,dive,cidr|ip"`
	// LenientAccountID decodes a non-numeric AccountId as 0 instead of
	// rejecting the notification.
	LenientAccountID bool
}

var validate = validator.New()

func (c Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("cloudpayments: invalid config: %w", err)
	}
	return nil
}

func (c Config) name() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return DefaultName
}

// ParseAllowlist converts IP and CIDR strings into prefixes. A bare address
// becomes a single-host prefix.
func ParseAllowlist(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("cloudpayments: allowed ip %q: %w", entry, err)
			}
			if prefix.Addr().Is4In6() && prefix.Bits() >= 96 {
				prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("cloudpayments: allowed ip %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
