package security

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/booking-payments/internal/common"
	"github.com/noah-isme/booking-payments/internal/obs"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

// ErrOriginDenied is the error body returned for disallowed origins.
const ErrOriginDenied = "Origin not allowed"

// OriginChecker answers allow-list questions. *tenant.Registry implements it.
type OriginChecker interface {
	OriginAllowed(ctx context.Context, tenant, origin string) (bool, error)
	AnyOriginAllowed(ctx context.Context, origin string) (bool, error)
}

// CORS checks the Origin header against per-tenant allow-lists and echoes the exact
// origin on success. Requests without an Origin are denied.
type CORS struct {
	Origins  OriginChecker
	Resolver *tenant.Resolver
	MaxAge   int
}

// NewCORS returns a guard using origins and resolver.
func NewCORS(origins OriginChecker, resolver *tenant.Resolver) *CORS {
	return &CORS{Origins: origins, Resolver: resolver, MaxAge: 600}
}

// Authorize checks the request's Origin for tenantName and, when allowed, writes the
// CORS grant headers. A denial writes nothing and returns a KindOriginDenied error.
func (c *CORS) Authorize(w http.ResponseWriter, r *http.Request, tenantName string) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		c.denied(r, tenantName, origin)
		return common.NewAppError(common.KindOriginDenied, ErrOriginDenied, "", nil)
	}
	allowed, err := c.Origins.OriginAllowed(r.Context(), tenantName, origin)
	if err != nil {
		return err
	}
	if !allowed {
		c.denied(r, tenantName, origin)
		return common.NewAppError(common.KindOriginDenied, ErrOriginDenied, "", nil)
	}
	c.grant(w, origin)
	return nil
}

// Preflight answers OPTIONS requests before routing reaches handlers or the rate
// limiter. When no tenant can be resolved it falls back to a scan of every tenant's
// allow-list. That fallback only proves the origin belongs to some tenant; the actual
// request is re-checked against its own tenant.
func (c *CORS) Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		res, _ := c.Resolver.Resolve(r, "")

		var (
			allowed bool
			err     error
		)
		switch {
		case origin == "":
		case res.Resolved():
			allowed, err = c.Origins.OriginAllowed(ctx, res.Name, origin)
		default:
			zerolog.Ctx(ctx).Debug().Str("origin", origin).Msg("preflight without tenant, checking every allow-list")
			allowed, err = c.Origins.AnyOriginAllowed(ctx, origin)
		}
		if err != nil {
			common.WriteError(w, err)
			return
		}
		if !allowed {
			c.denied(r, res.Name, origin)
			common.JSONError(w, http.StatusForbidden, ErrOriginDenied, "")
			return
		}
		c.grant(w, origin)
		if c.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (c *CORS) grant(w http.ResponseWriter, origin string) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Add("Vary", "Origin")
	headers.Set("Access-Control-Allow-Credentials", "true")
	headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	headers.Set("Access-Control-Allow-Headers", "Content-Type, "+c.tenantHeader())
}

func (c *CORS) tenantHeader() string {
	if c.Resolver == nil || c.Resolver.HeaderName == "" {
		return tenant.DefaultHeader
	}
	return c.Resolver.HeaderName
}

func (c *CORS) denied(r *http.Request, tenantName, origin string) {
	obs.SecurityEvent(r.Context(), "origin_denied").
		Str("origin", origin).
		Str("tenant", tenantName).
		Str("path", r.URL.Path).
		Msg("origin not allowed")
}
