package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/booking-payments/internal/common"
	"github.com/noah-isme/booking-payments/internal/resilience"
)

// Registry answers origin and credential questions on top of a Directory. Every lookup
// is bounded by Timeout.
type Registry struct {
	Directory Directory
	Timeout   time.Duration
}

// NewRegistry wraps dir.
func NewRegistry(dir Directory, timeout time.Duration) *Registry {
	return &Registry{Directory: dir, Timeout: timeout}
}

func (r *Registry) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// Config returns the tenant's configuration. Directory failures are mapped onto the
// response taxonomy.
func (r *Registry) Config(ctx context.Context, name string) (Config, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	cfg, err := r.Directory.Lookup(ctx, name)
	if err != nil {
		return Config{}, classify(err)
	}
	return cfg, nil
}

// OriginAllowed reports whether origin may call the API on behalf of the tenant. An
// unknown tenant allows nothing.
func (r *Registry) OriginAllowed(ctx context.Context, name, origin string) (bool, error) {
	cfg, err := r.Config(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			return false, nil
		}
		return false, err
	}
	return cfg.AllowsOrigin(origin), nil
}

// AnyOriginAllowed reports whether any tenant lists origin. It only answers preflights
// that carry no tenant and is weaker than OriginAllowed: the actual request is checked
// again against its own tenant.
func (r *Registry) AnyOriginAllowed(ctx context.Context, origin string) (bool, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	configs, err := r.Directory.All(ctx)
	if err != nil {
		return false, classify(err)
	}
	for _, cfg := range configs {
		if cfg.AllowsOrigin(origin) {
			return true, nil
		}
	}
	return false, nil
}

// Credentials loads the tenant's secrets for gateway. A tenant without an entry yields a
// KindConfigMissing error naming what the operator has to add.
func (r *Registry) Credentials(ctx context.Context, name, gateway string) (Credentials, error) {
	cfg, err := r.Config(ctx, name)
	if err != nil {
		return Credentials{}, err
	}
	creds, ok := cfg.Gateways[strings.ToLower(gateway)]
	if !ok {
		return Credentials{}, common.NewAppError(common.KindConfigMissing,
			"Payment gateway not configured",
			fmt.Sprintf("no %s credentials configured for tenant %s", gateway, cfg.Name),
			nil)
	}
	return creds, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownTenant):
		return common.NewAppError(common.KindNotFound, "Unknown client", "", err)
	case resilience.IsTimeout(err):
		return common.NewAppError(common.KindUpstreamTimeout, "Configuration service timed out", "", err)
	default:
		return common.NewAppError(common.KindUpstream, "Configuration service unavailable", "", err)
	}
}
