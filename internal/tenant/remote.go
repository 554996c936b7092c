package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/booking-payments/internal/resilience"
	"github.com/noah-isme/booking-payments/internal/store"
)

const allTenantsKey = "*"

// DefaultMissTTL bounds how long an unknown tenant name is remembered.
const DefaultMissTTL = 30 * time.Second

// Remote reads tenant configuration from the platform's config service and caches
// answers briefly so the hot path does not call out on every request. Unknown names are
// cached too, and a cached full listing answers misses on its own, so requests naming
// made-up tenants cannot fan out to the config service.
type Remote struct {
	BaseURL  string
	Token    string
	Client   resilience.HTTPClient
	CacheTTL time.Duration
	MissTTL  time.Duration

	one     *store.Memory[Config]
	all     *store.Memory[[]Config]
	missing *store.Memory[struct{}]
}

// NewRemote returns a directory backed by baseURL.
func NewRemote(baseURL, token string, client resilience.HTTPClient, cacheTTL time.Duration) *Remote {
	return &Remote{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		Client:   client,
		CacheTTL: cacheTTL,
		MissTTL:  DefaultMissTTL,
		one:      store.NewMemory[Config](),
		all:      store.NewMemory[[]Config](),
		missing:  store.NewMemory[struct{}](),
	}
}

// Lookup implements Directory.
func (r *Remote) Lookup(ctx context.Context, name string) (Config, error) {
	name = Normalize(name)
	if name == "" {
		return Config{}, ErrUnknownTenant
	}
	if cfg, err := r.one.Get(ctx, name); err == nil {
		return cfg, nil
	}
	if _, err := r.missing.Get(ctx, name); err == nil {
		return Config{}, ErrUnknownTenant
	}
	if configs, err := r.all.Get(ctx, allTenantsKey); err == nil {
		for _, cfg := range configs {
			if cfg.Name == name {
				_ = r.one.Put(ctx, name, cfg, r.CacheTTL)
				return cfg, nil
			}
		}
		return Config{}, r.miss(ctx, name)
	}
	var cfg Config
	if err := r.fetch(ctx, "/tenants/"+url.PathEscape(name), &cfg); err != nil {
		if errors.Is(err, ErrUnknownTenant) {
			return Config{}, r.miss(ctx, name)
		}
		return Config{}, err
	}
	cfg.Name = Normalize(cfg.Name)
	if cfg.Name != name {
		return Config{}, fmt.Errorf("tenant: config service returned %q for %q", cfg.Name, name)
	}
	_ = r.one.Put(ctx, name, cfg, r.CacheTTL)
	return cfg, nil
}

func (r *Remote) miss(ctx context.Context, name string) error {
	if r.MissTTL > 0 {
		_ = r.missing.Put(ctx, name, struct{}{}, r.MissTTL)
	}
	return ErrUnknownTenant
}

// All implements Directory.
func (r *Remote) All(ctx context.Context) ([]Config, error) {
	if configs, err := r.all.Get(ctx, allTenantsKey); err == nil {
		return configs, nil
	}
	var configs []Config
	if err := r.fetch(ctx, "/tenants", &configs); err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].Name = Normalize(configs[i].Name)
	}
	_ = r.all.Put(ctx, allTenantsKey, configs, r.CacheTTL)
	return configs, nil
}

// Ping checks that the config service answers.
func (r *Remote) Ping(ctx context.Context) error {
	_, err := r.All(ctx)
	return err
}

// Sweep drops expired cache entries.
func (r *Remote) Sweep(ctx context.Context) (int, error) {
	n, err := r.one.Sweep(ctx)
	if err != nil {
		return n, err
	}
	m, err := r.all.Sweep(ctx)
	if err != nil {
		return n + m, err
	}
	k, err := r.missing.Sweep(ctx)
	return n + m + k, err
}

func (r *Remote) fetch(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	resp, err := r.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("tenant: config service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownTenant
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tenant: config service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Join(errors.New("tenant: decode config"), err)
	}
	return nil
}
