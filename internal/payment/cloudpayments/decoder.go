package cloudpayments

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

var requiredFields = []string{"TransactionId", "Amount", "Currency", "InvoiceId"}

// Amounts are plain decimals; exponent notation is refused so a tiny field
// cannot expand into an enormous number.
const (
	maxAmountLen      = 32
	maxAmountDecimals = 8
)

// Decoder maps gateway fields onto a payment.Event. The caller sets Kind.
type Decoder struct {
	Provider string
	// Lenient decodes a non-numeric AccountId as 0.
	Lenient bool
}

// Decode builds an event from fields. It never mutates fields.
func (d Decoder) Decode(fields map[string]any) (payment.Event, error) {
	for _, key := range requiredFields {
		if strings.TrimSpace(payment.FieldString(fields[key])) == "" {
			return payment.Event{}, payment.Malformed("missing field %s", key)
		}
	}

	amount, err := parseAmount(payment.FieldString(fields["Amount"]))
	if err != nil {
		return payment.Event{}, err
	}
	userID, err := d.accountID(payment.FieldString(fields["AccountId"]))
	if err != nil {
		return payment.Event{}, err
	}

	data := maps.Clone(fields)
	if data == nil {
		data = map[string]any{}
	}
	return payment.Event{
		Provider:      d.Provider,
		Data:          data,
		Amount:        amount,
		Currency:      payment.FieldString(fields["Currency"]),
		InvoiceID:     payment.FieldString(fields["InvoiceId"]),
		UserID:        userID,
		TransactionID: payment.FieldString(fields["TransactionId"]),
		TestMode:      parseFlag(payment.FieldString(fields["TestMode"])),
		Payload:       decodePayload(fields["Data"]),
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAmountLen {
		return decimal.Decimal{}, payment.Malformed("Amount longer than %d characters", maxAmountLen)
	}
	if strings.ContainsAny(raw, "eE") {
		return decimal.Decimal{}, payment.Malformed("Amount %q uses exponent notation", raw)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, payment.Malformed("invalid Amount: %v", err)
	}
	if -amount.Exponent() > maxAmountDecimals {
		return decimal.Decimal{}, payment.Malformed("Amount %q has more than %d decimals", raw, maxAmountDecimals)
	}
	return amount, nil
}

func (d Decoder) accountID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if d.Lenient {
			return 0, nil
		}
		return 0, payment.Malformed("AccountId %q is not numeric", raw)
	}
	return id, nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "f", "no", "off":
		return false
	default:
		return true
	}
}

// decodePayload accepts the embedded JSON string of form posts or the nested
// object of JSON posts. Anything undecodable is treated as absent.
func decodePayload(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil
		}
		if dec.More() {
			return nil
		}
		return out
	default:
		return nil
	}
}
