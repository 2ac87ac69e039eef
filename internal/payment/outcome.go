package payment

import (
	"net/http"

	"github.com/noah-isme/cloudpayments-webhook/internal/common"
)

// Outcome is the acknowledgement returned to the gateway. Anything other than
// OutcomeSuccess makes the gateway schedule a redelivery.
type Outcome int

const (
	// OutcomeSuccess is answered with 200 {"code":0}.
	OutcomeSuccess Outcome = iota
	// OutcomeUnsuccessful is answered with 503 {"code":13}.
	OutcomeUnsuccessful
)

const (
	codeAccepted = 0
	codeRejected = 13
)

type ackBody struct {
	Code int `json:"code"`
}

// OutcomeFor collapses a pipeline result into the wire outcome.
func OutcomeFor(err error) Outcome {
	if err != nil {
		return OutcomeUnsuccessful
	}
	return OutcomeSuccess
}

// StatusCode returns the HTTP status for the outcome.
func (o Outcome) StatusCode() int {
	if o == OutcomeSuccess {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Code returns the gateway protocol code for the outcome.
func (o Outcome) Code() int {
	if o == OutcomeSuccess {
		return codeAccepted
	}
	return codeRejected
}

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "unsuccessful"
}

// Write encodes the outcome onto w.
func (o Outcome) Write(w http.ResponseWriter) {
	common.JSON(w, o.StatusCode(), ackBody{Code: o.Code()})
}
