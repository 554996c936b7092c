package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/booking-payments/internal/pricing"
)

// ErrUnknownTenant is returned when the directory has no entry for a tenant.
var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// Gateway credential environments.
const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"
)

// Credentials holds one gateway's secrets for a tenant. Only the fields relevant to the
// gateway are populated.
type Credentials struct {
	AccessToken   string `json:"accessToken,omitempty"`
	LocationID    string `json:"locationId,omitempty"`
	SecretKey     string `json:"secretKey,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	Environment   string `json:"environment,omitempty" validate:"omitempty,oneof=test live"`
	FeeStructure  string `json:"feeStructure,omitempty" validate:"omitempty,oneof=customer_pay merchant_absorb split"`
	FeeLocked     bool   `json:"feeLocked,omitempty"`
	Country       string `json:"country,omitempty"`
}

// Live reports whether the credentials target the processor's production environment.
func (c Credentials) Live() bool {
	return strings.EqualFold(c.Environment, EnvironmentLive)
}

// Checkout holds the tenant's default post-payment redirect targets.
type Checkout struct {
	SuccessURL string `json:"successUrl,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl,omitempty" validate:"omitempty,url"`
}

// Config is everything the payment broker knows about one tenant.
type Config struct {
	Name     string                 `json:"name" validate:"required"`
	Origins  []string               `json:"origins" validate:"required,min=1,dive,url"`
	Pricing  pricing.Config         `json:"pricing"`
	Gateways map[string]Credentials `json:"gateways" validate:"dive"`
	Checkout Checkout               `json:"checkout"`
}

// AllowsOrigin reports whether origin is on the tenant's allow-list.
func (c Config) AllowsOrigin(origin string) bool {
	origin = NormalizeOrigin(origin)
	if origin == "" {
		return false
	}
	for _, allowed := range c.Origins {
		if NormalizeOrigin(allowed) == origin {
			return true
		}
	}
	return false
}

// Directory looks up tenant configuration.
type Directory interface {
	Lookup(ctx context.Context, name string) (Config, error)
	All(ctx context.Context) ([]Config, error)
}

// NormalizeOrigin lowercases an origin and strips a trailing slash.
func NormalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// OriginOf returns the scheme://host[:port] origin of rawURL, or "" when rawURL is not
// an absolute http(s) URL.
func OriginOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return NormalizeOrigin(scheme + "://" + u.Host)
}

// Static serves tenants from a fixed in-memory set.
type Static struct {
	tenants map[string]Config
}

var validate = validator.New()

// NewStatic validates configs and indexes them by normalized name.
func NewStatic(configs ...Config) (*Static, error) {
	s := &Static{tenants: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		cfg.Name = Normalize(cfg.Name)
		if err := validate.Struct(cfg); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", cfg.Name, err)
		}
		if _, dup := s.tenants[cfg.Name]; dup {
			return nil, fmt.Errorf("tenant %q: duplicate entry", cfg.Name)
		}
		s.tenants[cfg.Name] = cfg
	}
	return s, nil
}

// LoadStaticFile reads a JSON array of tenant configs.
func LoadStaticFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}
	var configs []Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("decode tenant file: %w", err)
	}
	return NewStatic(configs...)
}

// Lookup implements Directory.
func (s *Static) Lookup(_ context.Context, name string) (Config, error) {
	cfg, ok := s.tenants[Normalize(name)]
	if !ok {
		return Config{}, ErrUnknownTenant
	}
	return cfg, nil
}

// All implements Directory. Results are ordered by name.
func (s *Static) All(_ context.Context) ([]Config, error) {
	out := make([]Config, 0, len(s.tenants))
	for _, cfg := range s.tenants {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Ping implements store.Pinger so readiness can include the directory.
func (s *Static) Ping(context.Context) error {
	if len(s.tenants) == 0 {
		return errors.New("tenant: directory is empty")
	}
	return nil
}
