package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/noah-isme/booking-payments/internal/resilience"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

const wipayRequestPath = "/plugins/payments/request"

// WiPay requests a hosted payment page and returns its URL. The tenant's fee policy is
// forwarded as given.
type WiPay struct {
	// BaseURL overrides the country-derived host when set.
	BaseURL string
	Timeout time.Duration
	client  *fasthttp.Client
}

// NewWiPay returns an adapter whose calls are bounded by timeout.
func NewWiPay(baseURL string, timeout time.Duration) *WiPay {
	return &WiPay{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Timeout: timeout,
		client: &fasthttp.Client{
			Name:                "payment-broker",
			MaxConnsPerHost:     64,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

type wipayResponse struct {
	URL           string `json:"url"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

// Gateway implements Adapter.
func (w *WiPay) Gateway() Gateway { return GatewayWiPay }

// Captures implements Adapter.
func (w *WiPay) Captures() bool { return false }

func (w *WiPay) baseURL(creds tenant.Credentials) string {
	if w.BaseURL != "" {
		return w.BaseURL
	}
	country := strings.ToLower(strings.TrimSpace(creds.Country))
	if country == "" {
		country = "tt"
	}
	return "https://" + country + ".wipayfinancial.com"
}

// Charge implements Adapter.
func (w *WiPay) Charge(ctx context.Context, creds tenant.Credentials, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(creds.AccountNumber) == "" {
		return ChargeResult{}, fmt.Errorf("%w: wipay account number", ErrConfigMissing)
	}
	environment := "sandbox"
	if creds.Live() {
		environment = "live"
	}
	country := strings.ToUpper(strings.TrimSpace(creds.Country))
	if country == "" {
		country = "TT"
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("account_number", creds.AccountNumber)
	args.Set("avs", "0")
	args.Set("country_code", country)
	args.Set("currency", req.Currency)
	args.Set("environment", environment)
	args.Set("fee_structure", req.FeeStructure)
	args.Set("method", "credit_card")
	args.Set("order_id", req.AttemptID)
	args.Set("origin", req.Tenant)
	args.Set("response_url", req.SuccessURL)
	args.Set("total", formatDecimal(req.AmountCents))
	if req.Contact.Email != "" {
		args.Set("email", req.Contact.Email)
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(httpReq)
		fasthttp.ReleaseResponse(httpResp)
	}()
	httpReq.SetRequestURI(w.baseURL(creds) + wipayRequestPath)
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if creds.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	httpReq.SetBody(args.QueryString())

	if err := w.client.DoDeadline(httpReq, httpResp, w.deadline(ctx)); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) || resilience.IsTimeout(err) {
			return ChargeResult{}, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return ChargeResult{}, fmt.Errorf("wipay: %w", err)
	}

	var out wipayResponse
	if err := sonic.Unmarshal(httpResp.Body(), &out); err != nil {
		return ChargeResult{}, fmt.Errorf("wipay: decode response (status %d): %w", httpResp.StatusCode(), err)
	}
	status := httpResp.StatusCode()
	if status >= 500 {
		return ChargeResult{}, fmt.Errorf("wipay: upstream status %d: %s", status, out.Message)
	}
	if status >= 300 || out.URL == "" {
		return ChargeResult{}, &RejectedError{Gateway: GatewayWiPay, Status: status, Code: "REQUEST_REJECTED", Detail: out.Message}
	}
	return ChargeResult{
		Gateway:     GatewayWiPay,
		ChargeID:    out.TransactionID,
		RedirectURL: out.URL,
	}, nil
}

func (w *WiPay) deadline(ctx context.Context) time.Time {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// formatDecimal renders minor units as a two-decimal amount.
func formatDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
