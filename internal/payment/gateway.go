package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/booking-payments/internal/tenant"
)

var (
	// ErrGatewayTimeout is returned when a processor did not answer within the outbound
	// timeout. The same attempt id may be retried.
	ErrGatewayTimeout = errors.New("payment: gateway timed out")
	// ErrGatewayRejected is matched by every RejectedError.
	ErrGatewayRejected = errors.New("payment: gateway rejected the request")
	// ErrConfigMissing is returned when tenant credentials lack a field the gateway needs.
	ErrConfigMissing = errors.New("payment: gateway credentials incomplete")
)

// RejectedError is a definitive answer from a processor, such as a declined card.
type RejectedError struct {
	Gateway Gateway
	Status  int
	Code    string
	Detail  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment: %s rejected (status %d, code %s): %s", e.Gateway, e.Status, e.Code, e.Detail)
}

// Is makes errors.Is(err, ErrGatewayRejected) hold.
func (e *RejectedError) Is(target error) bool {
	return target == ErrGatewayRejected
}

// ChargeRequest is what an adapter receives. AmountCents always comes from the stored
// attempt.
type ChargeRequest struct {
	AttemptID    string
	Tenant       string
	AmountCents  int64
	Currency     string
	SourceID     string
	SuccessURL   string
	CancelURL    string
	FeeStructure string
	Description  string
	Contact      Contact
}

// ChargeResult is an adapter's answer: a capture for token gateways, a redirect for
// hosted pages.
type ChargeResult struct {
	Gateway     Gateway `json:"gateway"`
	ChargeID    string  `json:"chargeId,omitempty"`
	Status      string  `json:"status,omitempty"`
	ReceiptURL  string  `json:"receiptUrl,omitempty"`
	RedirectURL string  `json:"redirectUrl,omitempty"`
	SessionID   string  `json:"sessionId,omitempty"`
	Replayed    bool    `json:"-"`
}

// Adapter is one processor integration.
type Adapter interface {
	Gateway() Gateway
	// Captures reports whether a successful Charge moves money. Capturing adapters
	// consume the attempt; redirect adapters leave it for the hosted page to settle.
	Captures() bool
	Charge(ctx context.Context, creds tenant.Credentials, req ChargeRequest) (ChargeResult, error)
}
