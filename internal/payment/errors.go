package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest marks notifications with an empty body or missing/invalid fields.
	ErrMalformedRequest = errors.New("payment: malformed request")
	// ErrAuthentication marks notifications that could not be proven to come from the gateway.
	ErrAuthentication = errors.New("payment: authentication failed")
	// ErrTrigger marks events rejected by the downstream trigger.
	ErrTrigger = errors.New("payment: trigger rejected event")
	// ErrUnknownStatus marks payment results whose status cannot be classified.
	ErrUnknownStatus = errors.New("payment: unknown payment status")
	// ErrUnknownKind is returned by Invoke for events without a recognised kind.
	ErrUnknownKind = errors.New("payment: unknown event kind")
)

// Malformed wraps a formatted reason with ErrMalformedRequest.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// Unauthenticated wraps a formatted reason with ErrAuthentication.
func Unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

// TriggerFailed wraps a trigger error with ErrTrigger, keeping the cause reachable.
func TriggerFailed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTrigger) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTrigger, err)
}

// KindOf returns a stable metric label for err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrTrigger):
		return "trigger"
	default:
		return "internal"
	}
}
