package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/booking-payments/internal/resilience"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

// StripeCheckout creates hosted Checkout Sessions. The browser is redirected to the
// session URL; no money moves until the customer completes the page.
type StripeCheckout struct {
	backends *stripe.Backends
	timeout  time.Duration
}

// NewStripeCheckout returns an adapter whose API calls are bounded by timeout. apiURL
// overrides the Stripe API host when set.
func NewStripeCheckout(apiURL string, timeout time.Duration) *StripeCheckout {
	cfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		MaxNetworkRetries: stripe.Int64(1),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/"); apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	return &StripeCheckout{
		backends: &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
		},
		timeout: timeout,
	}
}

// Gateway implements Adapter.
func (s *StripeCheckout) Gateway() Gateway { return GatewayStripe }

// Captures implements Adapter.
func (s *StripeCheckout) Captures() bool { return false }

// Charge implements Adapter. The attempt id doubles as the Stripe idempotency key, so
// resubmitting the same attempt returns the same session.
func (s *StripeCheckout) Charge(ctx context.Context, creds tenant.Credentials, req ChargeRequest) (ChargeResult, error) {
	if strings.TrimSpace(creds.SecretKey) == "" {
		return ChargeResult{}, fmt.Errorf("%w: stripe secret key", ErrConfigMissing)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sc := &client.API{}
	sc.Init(creds.SecretKey, s.backends)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AttemptID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.Contact.Email != "" {
		params.CustomerEmail = stripe.String(req.Contact.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.AttemptID)
	params.AddMetadata("attempt_id", req.AttemptID)
	params.AddMetadata("tenant", req.Tenant)

	sess, err := sc.CheckoutSessions.New(params)
	if err != nil {
		return ChargeResult{}, mapStripeError(ctx, err)
	}
	return ChargeResult{
		Gateway:     GatewayStripe,
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		RedirectURL: sess.URL,
	}, nil
}

func mapStripeError(ctx context.Context, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("stripe: upstream error: %w", err)
		}
		return &RejectedError{
			Gateway: GatewayStripe,
			Status:  stripeErr.HTTPStatusCode,
			Code:    string(stripeErr.Code),
			Detail:  stripeErr.Msg,
		}
	}
	if resilience.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	return fmt.Errorf("stripe: %w", err)
}
