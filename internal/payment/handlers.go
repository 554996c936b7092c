package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/booking-payments/internal/common"
	"github.com/noah-isme/booking-payments/internal/obs"
)

// Handler exposes the payment HTTP surface.
type Handler struct {
	Svc      *Service
	Guard    *Guard
	validate *validator.Validate
}

// NewHandler wires the handler with a validator that reports JSON field names.
func NewHandler(svc *Service, guard *Guard) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Svc: svc, Guard: guard, validate: v}
}

// Routes mounts the payment endpoints. Preflight requests are answered before any
// route or guard runs.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.Guard.CORS.Preflight)
	r.With(h.Guard.Protect).Post("/create", h.Create)
	r.Get("/quote/{quoteId}", h.Quote)
	r.With(h.Guard.Protect).Post("/square/create", h.Square)
	r.With(h.Guard.Protect).Post("/stripe/create", h.Stripe)
	r.With(h.Guard.Protect).Post("/wipay/create", h.WiPay)
	r.Get("/status/{sessionId}", h.Status)
}

type customerInfo struct {
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type createRequest struct {
	Client         string          `json:"client"`
	QuoteID        string          `json:"quoteId" validate:"max=128"`
	Pickup         string          `json:"pickup" validate:"required,max=512"`
	Dropoff        string          `json:"dropoff" validate:"required,max=512"`
	PickupPlaceID  string          `json:"pickup_place_id" validate:"max=256"`
	DropoffPlaceID string          `json:"dropoff_place_id" validate:"max=256"`
	PickupLat      *float64        `json:"pickup_lat" validate:"omitempty,gte=-90,lte=90"`
	PickupLng      *float64        `json:"pickup_lng" validate:"omitempty,gte=-180,lte=180"`
	DropoffLat     *float64        `json:"dropoff_lat" validate:"omitempty,gte=-90,lte=90"`
	DropoffLng     *float64        `json:"dropoff_lng" validate:"omitempty,gte=-180,lte=180"`
	Passengers     int             `json:"passengers" validate:"required,min=1,max=100"`
	RoundTrip      bool            `json:"roundTrip"`
	Gateway        string          `json:"gateway" validate:"omitempty,oneof=square stripe wipay"`
	CustomerInfo   customerInfo    `json:"customerInfo"`
	QuoteData      json.RawMessage `json:"quoteData"`
}

type createResponse struct {
	Success          bool   `json:"success"`
	PaymentAttemptID string `json:"paymentAttemptId"`
	AmountCents      int64  `json:"amountCents"`
	Currency         string `json:"currency"`
}

type quoteView struct {
	QuoteID    string       `json:"quoteId"`
	Pickup     Place        `json:"pickup"`
	Dropoff    Place        `json:"dropoff"`
	Passengers int          `json:"passengers"`
	RoundTrip  bool         `json:"roundTrip"`
	Trip       TripMetadata `json:"tripMetadata"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

type dispatchRequest struct {
	Client           string `json:"client"`
	PaymentAttemptID string `json:"paymentAttemptId" validate:"max=128"`
	SourceID         string `json:"sourceId" validate:"max=512"`
	SuccessURL       string `json:"successUrl" validate:"omitempty,url,max=2048"`
	CancelURL        string `json:"cancelUrl" validate:"omitempty,url,max=2048"`
	FeeStructure     string `json:"fee_structure" validate:"max=32"`
}

// Create handles POST /api/payment/create.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	env, ok := envelopeFrom(r.Context())
	if !ok {
		h.fail(w, r, errors.New("payment: create called without guard"))
		return
	}
	var req createRequest
	if err := h.decode(env, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	gw, _ := ParseGateway(req.Gateway)
	attempt, err := h.Svc.CreateAttempt(r.Context(), env.Tenant, CreateInput{
		QuoteID:    req.QuoteID,
		Pickup:     Place{Text: strings.TrimSpace(req.Pickup), PlaceID: req.PickupPlaceID, Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:    Place{Text: strings.TrimSpace(req.Dropoff), PlaceID: req.DropoffPlaceID, Lat: req.DropoffLat, Lng: req.DropoffLng},
		Passengers: req.Passengers,
		RoundTrip:  req.RoundTrip,
		Gateway:    gw,
		Contact:    Contact{Email: strings.TrimSpace(req.CustomerInfo.Email), Phone: strings.TrimSpace(req.CustomerInfo.Phone)},
		Trip:       tripMetadata(req.QuoteData),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, createResponse{
		Success:          true,
		PaymentAttemptID: attempt.ID,
		AmountCents:      attempt.AmountCents,
		Currency:         attempt.Currency,
	})
}

// Quote handles GET /api/payment/quote/{quoteId}. The origin is checked against the
// quote's own tenant.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if !h.Guard.Limits.Admit(w, r) {
		return
	}
	if rejectTampered(w, r, nil) {
		return
	}
	quote, err := h.Svc.LookupQuote(r.Context(), chi.URLParam(r, "quoteId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	obs.AnnotateTenant(r.Context(), quote.Tenant, "quote")
	if res, _ := h.Guard.Resolver.Resolve(r, ""); res.Resolved() && res.Name != quote.Tenant {
		obs.SecurityEvent(r.Context(), "cross_tenant").Str("quote_id", quote.ID).Str("tenant", res.Name).Msg("quote requested by another tenant")
		h.fail(w, r, common.NewAppError(common.KindCrossTenant, "Quote belongs to another client", "", nil))
		return
	}
	if err := h.Guard.CORS.Authorize(w, r, quote.Tenant); err != nil {
		h.fail(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"quote": quoteView{
			QuoteID:    quote.ID,
			Pickup:     quote.Pickup,
			Dropoff:    quote.Dropoff,
			Passengers: quote.Passengers,
			RoundTrip:  quote.RoundTrip,
			Trip:       quote.Trip,
			CreatedAt:  quote.CreatedAt,
			ExpiresAt:  quote.ExpiresAt,
		},
	})
}

// Square handles POST /api/payment/square/create.
func (h *Handler) Square(w http.ResponseWriter, r *http.Request) {
	res, ok := h.dispatch(w, r, GatewaySquare)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"paymentId":   res.ChargeID,
		"status":      res.Status,
		"receiptUrl":  res.ReceiptURL,
		"redirectUrl": res.RedirectURL,
		"replayed":    res.Replayed,
	})
}

// Stripe handles POST /api/payment/stripe/create.
func (h *Handler) Stripe(w http.ResponseWriter, r *http.Request) {
	res, ok := h.dispatch(w, r, GatewayStripe)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"redirectUrl": res.RedirectURL,
		"sessionId":   res.SessionID,
	})
}

// WiPay handles POST /api/payment/wipay/create.
func (h *Handler) WiPay(w http.ResponseWriter, r *http.Request) {
	res, ok := h.dispatch(w, r, GatewayWiPay)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"redirectUrl": res.RedirectURL,
		"paymentUrl":  res.RedirectURL,
	})
}

// Status handles GET /api/payment/status/{sessionId}. Attempts are not persisted
// durably, so there is nothing to look a session up in yet.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	common.JSONError(w, http.StatusNotFound, "Not found", "Payment status lookup is not available")
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, gw Gateway) (ChargeResult, bool) {
	env, ok := envelopeFrom(r.Context())
	if !ok {
		h.fail(w, r, errors.New("payment: dispatch called without guard"))
		return ChargeResult{}, false
	}
	var req dispatchRequest
	if err := h.decode(env, &req); err != nil {
		h.fail(w, r, err)
		return ChargeResult{}, false
	}
	res, err := h.Svc.Dispatch(r.Context(), gw, env.Tenant, DispatchInput{
		AttemptID:    req.PaymentAttemptID,
		SourceID:     req.SourceID,
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
		FeeStructure: req.FeeStructure,
	})
	if err != nil {
		h.fail(w, r, err)
		return ChargeResult{}, false
	}
	return res, true
}

func (h *Handler) decode(env Envelope, dst any) error {
	if len(env.Body) == 0 {
		return common.Validation("Invalid JSON body", "")
	}
	if err := json.Unmarshal(env.Body, dst); err != nil {
		return common.Validation("Invalid request", "Malformed field types")
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return common.Validation("Invalid request", describe(verrs[0]))
		}
		return common.Validation("Invalid request", "")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "email", "url":
		return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := common.AsAppError(err)
	switch appErr.Kind {
	case common.KindInternal, common.KindConfigMissing:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", appErr.Kind.String()).Str("detail", appErr.Message).Msg("payment request failed")
	}
	common.WriteError(w, appErr)
}

// tripMetadata extracts display-only trip details from the browser's quoteData.
// Unknown or malformed fields are ignored.
func tripMetadata(raw json.RawMessage) TripMetadata {
	if len(raw) == 0 {
		return TripMetadata{}
	}
	var data struct {
		Distance  any    `json:"distance"`
		Duration  any    `json:"duration"`
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return TripMetadata{}
	}
	return TripMetadata{
		DistanceKm:  asFloat(data.Distance),
		DurationMin: asFloat(data.Duration),
		QuotedAt:    data.CreatedAt,
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
			return f
		}
	}
	return 0
}
