package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/booking-payments/internal/resilience"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

const (
	squareSandboxURL    = "https://connect.squareupsandbox.com"
	squareProductionURL = "https://connect.squareup.com"
	squareVersion       = "2024-06-04"
)

// Square charges a card nonce through the Square Payments API and completes the
// payment in the same call.
type Square struct {
	// BaseURL overrides the environment-derived API host when set.
	BaseURL string
	Client  resilience.HTTPClient
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentRequest struct {
	SourceID          string      `json:"source_id"`
	IdempotencyKey    string      `json:"idempotency_key"`
	AmountMoney       squareMoney `json:"amount_money"`
	LocationID        string      `json:"location_id,omitempty"`
	Autocomplete      bool        `json:"autocomplete"`
	ReferenceID       string      `json:"reference_id,omitempty"`
	Note              string      `json:"note,omitempty"`
	BuyerEmailAddress string      `json:"buyer_email_address,omitempty"`
}

type squarePaymentResponse struct {
	Payment struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ReceiptURL string `json:"receipt_url"`
	} `json:"payment"`
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

// Gateway implements Adapter.
func (s *Square) Gateway() Gateway { return GatewaySquare }

// Captures implements Adapter.
func (s *Square) Captures() bool { return true }

func (s *Square) baseURL(creds tenant.Credentials) string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	if creds.Live() {
		return squareProductionURL
	}
	return squareSandboxURL
}

// Charge implements Adapter. The attempt id is sent as Square's idempotency key, so a
// retried request cannot create a second payment.
func (s *Square) Charge(ctx context.Context, creds tenant.Credentials, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return ChargeResult{}, fmt.Errorf("%w: square access token", ErrConfigMissing)
	}
	payload, err := json.Marshal(squarePaymentRequest{
		SourceID:          req.SourceID,
		IdempotencyKey:    req.AttemptID,
		AmountMoney:       squareMoney{Amount: req.AmountCents, Currency: req.Currency},
		LocationID:        creds.LocationID,
		Autocomplete:      true,
		ReferenceID:       req.AttemptID,
		Note:              req.Description,
		BuyerEmailAddress: req.Contact.Email,
	})
	if err != nil {
		return ChargeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL(creds)+"/v2/payments", bytes.NewReader(payload))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Square-Version", squareVersion)

	resp, err := s.Client.Do(ctx, httpReq)
	if err != nil {
		if resilience.IsTimeout(err) {
			return ChargeResult{}, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return ChargeResult{}, fmt.Errorf("square: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if resilience.IsTimeout(err) {
			return ChargeResult{}, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return ChargeResult{}, fmt.Errorf("square: read response: %w", err)
	}
	var out squarePaymentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ChargeResult{}, fmt.Errorf("square: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || len(out.Errors) > 0 || out.Payment.ID == "" {
		rejected := &RejectedError{Gateway: GatewaySquare, Status: resp.StatusCode, Code: "PAYMENT_FAILED"}
		if len(out.Errors) > 0 {
			rejected.Code = out.Errors[0].Code
			rejected.Detail = out.Errors[0].Detail
		}
		return ChargeResult{}, rejected
	}
	switch out.Payment.Status {
	case "COMPLETED", "APPROVED":
	default:
		return ChargeResult{}, &RejectedError{Gateway: GatewaySquare, Status: resp.StatusCode, Code: out.Payment.Status, Detail: "payment not completed"}
	}

	return ChargeResult{
		Gateway:     GatewaySquare,
		ChargeID:    out.Payment.ID,
		Status:      out.Payment.Status,
		ReceiptURL:  out.Payment.ReceiptURL,
		RedirectURL: withQuery(req.SuccessURL, "paymentId", out.Payment.ID),
	}, nil
}

func withQuery(raw, key, value string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
