package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/booking-payments/internal/common"
	"github.com/noah-isme/booking-payments/internal/obs"
	"github.com/noah-isme/booking-payments/internal/pricing"
	"github.com/noah-isme/booking-payments/internal/store"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

// Fee allocation policies accepted by the redirect gateway.
var feeStructures = map[string]struct{}{
	"customer_pay":    {},
	"merchant_absorb": {},
	"split":           {},
}

// TenantSource supplies tenant configuration and gateway secrets.
type TenantSource interface {
	Config(ctx context.Context, name string) (tenant.Config, error)
	Credentials(ctx context.Context, name, gateway string) (tenant.Credentials, error)
}

// Service creates payment attempts from recalculated quotes and dispatches them to
// gateways.
type Service struct {
	Quotes   store.Store[Quote]
	Attempts store.Store[Attempt]
	Consumed store.Store[Consumed]
	Tenants  TenantSource
	Adapters map[Gateway]Adapter

	QuoteTTL    time.Duration
	AttemptTTL  time.Duration
	ConsumedTTL time.Duration
	Currency    string

	Now   func() time.Time
	NewID func() string
}

// CreateInput is the trusted part of a create request.
type CreateInput struct {
	QuoteID    string
	Pickup     Place
	Dropoff    Place
	Passengers int
	RoundTrip  bool
	Gateway    Gateway
	Contact    Contact
	Trip       TripMetadata
}

// DispatchInput is the gateway-specific proof supplied by the browser.
type DispatchInput struct {
	AttemptID    string
	SourceID     string
	SuccessURL   string
	CancelURL    string
	FeeStructure string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return "USD"
}

// CreateAttempt stores the quote, recalculates its price under the tenant's pricing
// and mints a new attempt carrying that amount.
func (s *Service) CreateAttempt(ctx context.Context, tenantName string, in CreateInput) (Attempt, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateAttempt")
	defer span.End()
	span.SetAttributes(attribute.String("tenant", tenantName), attribute.String("quote.id", in.QuoteID))

	result := "error"
	defer func() {
		if obs.PaymentAttemptsTotal != nil {
			obs.PaymentAttemptsTotal.WithLabelValues(result).Inc()
		}
	}()

	in.QuoteID = strings.TrimSpace(in.QuoteID)
	if in.QuoteID == "" {
		result = "invalid"
		return Attempt{}, common.Validation("Missing quoteId", "")
	}

	now := s.now()
	quote := Quote{
		ID:         in.QuoteID,
		Tenant:     tenantName,
		Pickup:     in.Pickup,
		Dropoff:    in.Dropoff,
		Passengers: in.Passengers,
		RoundTrip:  in.RoundTrip,
		Trip:       in.Trip,
		Contact:    in.Contact,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.QuoteTTL),
	}
	// The ownership check and the overwrite happen in one update so a concurrent create
	// from another tenant cannot slip in between them.
	_, err := s.Quotes.Update(ctx, quote.ID, s.QuoteTTL, func(existing Quote, found bool) (Quote, error) {
		if found && existing.Tenant != tenantName {
			obs.SecurityEvent(ctx, "cross_tenant").Str("quote_id", quote.ID).Str("owner", existing.Tenant).Msg("quote id reused by another tenant")
			return existing, common.NewAppError(common.KindCrossTenant, "Quote belongs to another client", "", nil)
		}
		return quote, nil
	})
	if common.IsKind(err, common.KindCrossTenant) {
		result = "cross_tenant"
		return Attempt{}, err
	}
	if err != nil {
		span.RecordError(err)
		return Attempt{}, err
	}

	cfg, err := s.Tenants.Config(ctx, tenantName)
	if err != nil {
		span.RecordError(err)
		return Attempt{}, err
	}
	breakdown, err := pricing.Recalculate(cfg.Pricing, pricing.Trip{
		Pickup:     toLocation(quote.Pickup),
		Dropoff:    toLocation(quote.Dropoff),
		Passengers: quote.Passengers,
		RoundTrip:  quote.RoundTrip,
	})
	if err != nil {
		result = "invalid"
		switch {
		case errors.Is(err, pricing.ErrInvalidPassengers):
			return Attempt{}, common.Validation("Invalid passenger count", "")
		case errors.Is(err, pricing.ErrInvalidRoute):
			return Attempt{}, common.Validation("Pickup and dropoff are required", "")
		}
		return Attempt{}, err
	}
	if breakdown.Total <= 0 {
		result = "invalid"
		zerolog.Ctx(ctx).Warn().Str("quote_id", quote.ID).Int64("amount_cents", breakdown.Total).Msg("recalculated price not chargeable")
		return Attempt{}, common.Validation("Invalid price", "The trip could not be priced")
	}

	attempt := Attempt{
		ID:          s.newID(),
		Tenant:      tenantName,
		QuoteID:     quote.ID,
		AmountCents: breakdown.Total,
		Currency:    s.currency(),
		Gateway:     in.Gateway,
		Contact:     in.Contact,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.AttemptTTL),
	}
	if err := s.Attempts.Put(ctx, attempt.ID, attempt, s.AttemptTTL); err != nil {
		span.RecordError(err)
		return Attempt{}, err
	}

	result = "created"
	if obs.AttemptAmountCents != nil {
		obs.AttemptAmountCents.WithLabelValues(tenantName).Observe(float64(attempt.AmountCents))
	}
	span.SetAttributes(attribute.String("attempt.id", attempt.ID), attribute.Int64("attempt.amount_cents", attempt.AmountCents))
	zerolog.Ctx(ctx).Info().
		Str("attempt_id", attempt.ID).
		Str("quote_id", quote.ID).
		Str("route", breakdown.Route).
		Int64("amount_cents", attempt.AmountCents).
		Msg("payment attempt created")
	return attempt, nil
}

// LookupQuote returns a live quote.
func (s *Service) LookupQuote(ctx context.Context, quoteID string) (Quote, error) {
	quote, err := s.Quotes.Get(ctx, strings.TrimSpace(quoteID))
	if errors.Is(err, store.ErrNotFound) {
		return Quote{}, common.NotFound("Quote not found")
	}
	return quote, err
}

// Dispatch submits the attempt to gw on behalf of tenantName. The amount charged is
// always the one stored on the attempt. Capturing gateways consume the attempt so a
// second submit replays the first result instead of charging again. Redirect gateways
// pin it, so one attempt opens sessions on a single gateway only.
func (s *Service) Dispatch(ctx context.Context, gw Gateway, tenantName string, in DispatchInput) (res ChargeResult, err error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("payment.gateway", string(gw)), attribute.String("tenant", tenantName))

	result := "error"
	defer func() {
		if err != nil {
			result = common.AsAppError(err).Kind.String()
			span.SetStatus(codes.Error, result)
		}
		if obs.GatewayDispatchTotal != nil {
			obs.GatewayDispatchTotal.WithLabelValues(string(gw), result).Inc()
		}
	}()

	in.AttemptID = strings.TrimSpace(in.AttemptID)
	if in.AttemptID == "" {
		return ChargeResult{}, common.Validation("Missing paymentAttemptId", "")
	}
	span.SetAttributes(attribute.String("attempt.id", in.AttemptID))
	adapter, ok := s.Adapters[gw]
	if !ok {
		return ChargeResult{}, common.NewAppError(common.KindConfigMissing, "Payment gateway not available", "gateway "+string(gw)+" is not enabled on this server", nil)
	}

	attempt, err := s.Attempts.Get(ctx, in.AttemptID)
	if errors.Is(err, store.ErrNotFound) {
		res, err = s.replay(ctx, gw, tenantName, in.AttemptID)
		if err == nil {
			result = "replayed"
		}
		return res, err
	}
	if err != nil {
		return ChargeResult{}, err
	}
	if err := s.checkOwner(ctx, attempt, tenantName); err != nil {
		return ChargeResult{}, err
	}
	if attempt.Gateway != "" && attempt.Gateway != gw {
		return ChargeResult{}, gatewayMismatch(attempt.Gateway)
	}

	cfg, err := s.Tenants.Config(ctx, tenantName)
	if err != nil {
		return ChargeResult{}, err
	}
	creds, err := s.Tenants.Credentials(ctx, tenantName, string(gw))
	if err != nil {
		return ChargeResult{}, err
	}
	req, err := s.chargeRequest(gw, attempt, cfg, creds, in)
	if err != nil {
		return ChargeResult{}, err
	}

	if !adapter.Captures() {
		if _, err := s.pin(ctx, attempt, gw); err != nil {
			return ChargeResult{}, err
		}
		res, err = s.charge(ctx, gw, adapter, creds, req)
		if err != nil {
			return ChargeResult{}, s.gatewayError(ctx, gw, err)
		}
		result = "redirect"
		return res, nil
	}

	// Take is the serialization point: of concurrent submits only one receives the attempt.
	taken, err := s.Attempts.Take(ctx, attempt.ID)
	if errors.Is(err, store.ErrNotFound) {
		res, err = s.replay(ctx, gw, tenantName, attempt.ID)
		if err == nil {
			result = "replayed"
		}
		return res, err
	}
	if err != nil {
		return ChargeResult{}, err
	}
	if taken.Gateway != "" && taken.Gateway != gw {
		s.restore(ctx, taken)
		return ChargeResult{}, gatewayMismatch(taken.Gateway)
	}
	req.AmountCents = taken.AmountCents

	res, err = s.charge(ctx, gw, adapter, creds, req)
	if err != nil {
		s.restore(ctx, taken)
		return ChargeResult{}, s.gatewayError(ctx, gw, err)
	}

	consumed := Consumed{Attempt: taken, Result: res, ConsumedAt: s.now()}
	if perr := s.Consumed.Put(ctx, taken.ID, consumed, s.ConsumedTTL); perr != nil {
		zerolog.Ctx(ctx).Error().Err(perr).Str("attempt_id", taken.ID).Msg("record consumed attempt")
	}
	result = "captured"
	zerolog.Ctx(ctx).Info().
		Str("attempt_id", taken.ID).
		Str("gateway", string(gw)).
		Str("charge_id", res.ChargeID).
		Str("source_fp", common.Fingerprint(in.SourceID)).
		Int64("amount_cents", taken.AmountCents).
		Msg("payment captured")
	return res, nil
}

func (s *Service) charge(ctx context.Context, gw Gateway, adapter Adapter, creds tenant.Credentials, req ChargeRequest) (ChargeResult, error) {
	start := time.Now()
	res, err := adapter.Charge(ctx, creds, req)
	if obs.GatewayDuration != nil {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrGatewayTimeout):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		obs.GatewayDuration.WithLabelValues(string(gw), outcome).Observe(time.Since(start).Seconds())
	}
	return res, err
}

// pin binds an unbound attempt to a redirect gateway before the first session is
// opened. Take makes the first dispatch win; every later dispatch to another gateway is
// a mismatch.
func (s *Service) pin(ctx context.Context, attempt Attempt, gw Gateway) (Attempt, error) {
	if attempt.Gateway == gw {
		return attempt, nil
	}
	taken, err := s.Attempts.Take(ctx, attempt.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Attempt{}, common.NotFound("Payment attempt not found")
	}
	if err != nil {
		return Attempt{}, err
	}
	if taken.Gateway != "" && taken.Gateway != gw {
		s.restore(ctx, taken)
		return Attempt{}, gatewayMismatch(taken.Gateway)
	}
	taken.Gateway = gw
	remaining := taken.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return Attempt{}, common.NotFound("Payment attempt not found")
	}
	if err := s.Attempts.Put(ctx, taken.ID, taken, remaining); err != nil {
		return Attempt{}, err
	}
	zerolog.Ctx(ctx).Info().Str("attempt_id", taken.ID).Str("gateway", string(gw)).Msg("payment attempt pinned to gateway")
	return taken, nil
}

func gatewayMismatch(bound Gateway) error {
	return common.Validation("Gateway mismatch", "This payment attempt was created for "+string(bound))
}

func (s *Service) checkOwner(ctx context.Context, attempt Attempt, tenantName string) error {
	if attempt.Tenant == tenantName {
		return nil
	}
	obs.SecurityEvent(ctx, "cross_tenant").
		Str("attempt_id", attempt.ID).
		Str("owner", attempt.Tenant).
		Str("tenant", tenantName).
		Msg("payment attempt submitted by another tenant")
	return common.NewAppError(common.KindCrossTenant, "Payment attempt belongs to another client", "", nil)
}

func (s *Service) replay(ctx context.Context, gw Gateway, tenantName, attemptID string) (ChargeResult, error) {
	if s.Consumed == nil {
		return ChargeResult{}, common.NotFound("Payment attempt not found")
	}
	consumed, err := s.Consumed.Get(ctx, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return ChargeResult{}, common.NotFound("Payment attempt not found")
	}
	if err != nil {
		return ChargeResult{}, err
	}
	if err := s.checkOwner(ctx, consumed.Attempt, tenantName); err != nil {
		return ChargeResult{}, err
	}
	if consumed.Result.Gateway != gw {
		return ChargeResult{}, common.Validation("Payment attempt already used", "This payment attempt was already charged through "+string(consumed.Result.Gateway))
	}
	zerolog.Ctx(ctx).Info().Str("attempt_id", attemptID).Msg("replaying consumed payment attempt")
	res := consumed.Result
	res.Replayed = true
	return res, nil
}

// restore puts a taken attempt back after a failed charge so the caller can retry with
// the same id. The original expiry is kept.
func (s *Service) restore(ctx context.Context, attempt Attempt) {
	remaining := attempt.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return
	}
	if err := s.Attempts.Put(ctx, attempt.ID, attempt, remaining); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("attempt_id", attempt.ID).Msg("restore payment attempt")
	}
}

func (s *Service) chargeRequest(gw Gateway, attempt Attempt, cfg tenant.Config, creds tenant.Credentials, in DispatchInput) (ChargeRequest, error) {
	req := ChargeRequest{
		AttemptID:   attempt.ID,
		Tenant:      attempt.Tenant,
		AmountCents: attempt.AmountCents,
		Currency:    attempt.Currency,
		Description: "Booking " + attempt.QuoteID,
		Contact:     attempt.Contact,
		SuccessURL:  cfg.Checkout.SuccessURL,
		CancelURL:   cfg.Checkout.CancelURL,
	}
	switch gw {
	case GatewaySquare:
		req.SourceID = strings.TrimSpace(in.SourceID)
		if req.SourceID == "" {
			return ChargeRequest{}, common.Validation("Missing sourceId", "")
		}
	case GatewayStripe:
		for _, u := range []struct{ raw, name string }{{in.SuccessURL, "successUrl"}, {in.CancelURL, "cancelUrl"}} {
			if strings.TrimSpace(u.raw) == "" {
				continue
			}
			if !cfg.AllowsOrigin(tenant.OriginOf(u.raw)) {
				return ChargeRequest{}, common.Validation("Invalid redirect URL", u.name+" must point to an allowed origin")
			}
		}
		if in.SuccessURL != "" {
			req.SuccessURL = strings.TrimSpace(in.SuccessURL)
		}
		if in.CancelURL != "" {
			req.CancelURL = strings.TrimSpace(in.CancelURL)
		}
		if req.SuccessURL == "" || req.CancelURL == "" {
			return ChargeRequest{}, common.NewAppError(common.KindConfigMissing, "Payment gateway not configured",
				"no checkout success/cancel URL configured for tenant "+cfg.Name, nil)
		}
	case GatewayWiPay:
		fee, err := feeStructure(creds, in.FeeStructure)
		if err != nil {
			return ChargeRequest{}, err
		}
		req.FeeStructure = fee
	}
	return req, nil
}

// feeStructure resolves who absorbs the processor fee. The tenant's value is the
// default; a locked tenant value cannot be changed by the caller.
func feeStructure(creds tenant.Credentials, requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	configured := strings.ToLower(strings.TrimSpace(creds.FeeStructure))
	if requested == "" {
		requested = configured
	}
	if requested == "" {
		requested = "customer_pay"
	}
	if _, ok := feeStructures[requested]; !ok {
		return "", common.Validation("Invalid fee_structure", "fee_structure must be customer_pay, merchant_absorb or split")
	}
	if creds.FeeLocked && configured != "" && requested != configured {
		return "", common.Validation("Invalid fee_structure", "fee_structure is fixed for this client")
	}
	return requested, nil
}

func (s *Service) gatewayError(ctx context.Context, gw Gateway, err error) error {
	logger := zerolog.Ctx(ctx)
	var rejected *RejectedError
	switch {
	case errors.Is(err, ErrGatewayTimeout):
		logger.Warn().Err(err).Str("gateway", string(gw)).Msg("gateway timed out")
		return common.NewAppError(common.KindUpstreamTimeout, "Payment gateway timed out", "Please retry with the same paymentAttemptId", err)
	case errors.As(err, &rejected):
		logger.Warn().Str("gateway", string(gw)).Int("status", rejected.Status).Str("code", rejected.Code).Msg("gateway rejected charge")
		return common.NewAppError(common.KindUpstream, "Payment was declined", rejected.Code, err)
	case errors.Is(err, ErrConfigMissing):
		logger.Error().Err(err).Str("gateway", string(gw)).Msg("gateway credentials incomplete")
		return common.NewAppError(common.KindConfigMissing, "Payment gateway not configured", "credentials for "+string(gw)+" are incomplete", err)
	default:
		logger.Error().Err(err).Str("gateway", string(gw)).Msg("gateway call failed")
		return common.NewAppError(common.KindUpstream, "Payment gateway error", "Please retry with the same paymentAttemptId", err)
	}
}

func toLocation(p Place) pricing.Location {
	return pricing.Location{Text: p.Text, PlaceID: p.PlaceID, Lat: p.Lat, Lng: p.Lng}
}
