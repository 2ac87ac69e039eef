package cloudpayments

import (
	"fmt"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

// Gateway payment statuses, matched case-sensitively.
const (
	StatusCompleted  = "Completed"
	StatusAuthorized = "Authorized"
	StatusCancelled  = "Cancelled"
	StatusDeclined   = "Declined"
)

// Classify maps a pay-notification status onto an event kind.
func Classify(status string) (payment.EventKind, error) {
	switch status {
	case StatusCompleted, StatusAuthorized:
		return payment.KindSuccess, nil
	case StatusCancelled, StatusDeclined:
		return payment.KindFail, nil
	default:
		return "", fmt.Errorf("%w: %q", payment.ErrUnknownStatus, status)
	}
}
