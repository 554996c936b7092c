package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/booking-payments/internal/common"
	"github.com/noah-isme/booking-payments/internal/obs"
	"github.com/noah-isme/booking-payments/internal/ratelimit"
	"github.com/noah-isme/booking-payments/internal/security"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

// tamperFields are caller-supplied totals. Money only ever comes from recalculation, so
// any of these in a request body is treated as tampering.
var tamperFields = []string{
	"totalCost", "total_cost", "totalAmount", "total_amount", "total",
	"amount", "amountCents", "amount_cents",
}

type envelopeKey struct{}

// Envelope is the request as seen by a guarded handler.
type Envelope struct {
	Tenant string
	Body   []byte
}

func envelopeFrom(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

// Guard runs the checks shared by every tenant-scoped payment route: body decoding,
// tenant resolution, origin, rate limit and tamper rejection, in that order. A client
// that has already spent its budget is turned away before the origin lookup, and
// origin denials are charged to the budget too.
type Guard struct {
	CORS     *security.CORS
	Limits   ratelimit.Handler
	Resolver *tenant.Resolver
}

// NewGuard assembles a guard. Limiter rejections and failures are logged and counted.
func NewGuard(cors *security.CORS, limits ratelimit.Handler, resolver *tenant.Resolver) *Guard {
	if limits.OnLimit == nil {
		limits.OnLimit = func(r *http.Request, key string) {
			if obs.RateLimitedTotal != nil {
				obs.RateLimitedTotal.Inc()
			}
			zerolog.Ctx(r.Context()).Info().Str("client_ip", key).Msg("rate limited")
		}
	}
	if limits.OnError == nil {
		limits.OnError = func(r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("rate limiter unavailable, admitting request")
		}
	}
	return &Guard{CORS: cors, Limits: limits, Resolver: resolver}
}

// Protect is the middleware form of the guard pipeline.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fields, body, err := common.DecodeJSONObject(r.Body)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "Invalid JSON body", "")
			return
		}

		var bodyClient string
		if raw, ok := fields["client"]; ok {
			if err := json.Unmarshal(raw, &bodyClient); err != nil {
				common.JSONError(w, http.StatusBadRequest, "Invalid client", "client must be a string")
				return
			}
		}
		res, err := g.Resolver.Resolve(r, bodyClient)
		if errors.Is(err, tenant.ErrConflict) {
			obs.SecurityEvent(ctx, "tenant_conflict").Str("tenant", res.Name).Str("body_client", bodyClient).Msg("conflicting client identifiers")
			common.JSONError(w, http.StatusBadRequest, "Conflicting client identifiers", "")
			return
		}
		if !res.Resolved() {
			common.JSONError(w, http.StatusBadRequest, "Missing client identifier", "")
			return
		}
		obs.AnnotateTenant(ctx, res.Name, res.Source.String())

		if g.Limits.Exhausted(w, r) {
			return
		}
		if err := g.CORS.Authorize(w, r, res.Name); err != nil {
			g.Limits.Charge(r)
			common.WriteError(w, err)
			return
		}
		if !g.Limits.Admit(w, r) {
			return
		}
		if rejectTampered(w, r, fields) {
			return
		}

		ctx = context.WithValue(ctx, envelopeKey{}, Envelope{Tenant: res.Name, Body: body})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rejectTampered writes a 400 when the body or the query string carries a total.
func rejectTampered(w http.ResponseWriter, r *http.Request, fields map[string]json.RawMessage) bool {
	query := r.URL.Query()
	for _, name := range tamperFields {
		_, inBody := fields[name]
		if !inBody && !query.Has(name) {
			continue
		}
		obs.SecurityEvent(r.Context(), "tamper_field").Str("field", name).Str("path", r.URL.Path).Msg("client-supplied amount rejected")
		common.JSONError(w, http.StatusBadRequest, "Invalid request", "Client-supplied amounts are not accepted")
		return true
	}
	return false
}
