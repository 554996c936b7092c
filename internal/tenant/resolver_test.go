package tenant_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/tenant"
)

func TestResolveOrder(t *testing.T) {
	r := tenant.NewResolver("")

	req := httptest.NewRequest("POST", "/api/payment/create?client=beta", nil)
	req.Header.Set(tenant.DefaultHeader, " Acme ")
	res, err := r.Resolve(req, "")
	require.NoError(t, err)
	require.Equal(t, tenant.Resolution{Name: "acme", Source: tenant.SourceHeader}, res)

	req = httptest.NewRequest("POST", "/api/payment/create?client=Beta", nil)
	res, err = r.Resolve(req, "")
	require.NoError(t, err)
	require.Equal(t, tenant.SourceQuery, res.Source)
	require.Equal(t, "beta", res.Name)

	req = httptest.NewRequest("POST", "/api/payment/create", nil)
	res, err = r.Resolve(req, "acme")
	require.NoError(t, err)
	require.Equal(t, tenant.SourceBody, res.Source)
}

func TestResolveUnresolvedPreflight(t *testing.T) {
	r := tenant.NewResolver("X-Client")
	req := httptest.NewRequest("OPTIONS", "/api/payment/create", nil)
	req.Header.Set(tenant.DefaultHeader, "acme")

	res, err := r.Resolve(req, "")
	require.NoError(t, err)
	require.False(t, res.Resolved())
	require.Equal(t, "unresolved", res.Source.String())
}

func TestResolveConflictingBody(t *testing.T) {
	r := tenant.NewResolver("")
	req := httptest.NewRequest("POST", "/api/payment/create", nil)
	req.Header.Set(tenant.DefaultHeader, "acme")

	res, err := r.Resolve(req, "Beta")
	require.ErrorIs(t, err, tenant.ErrConflict)
	require.Equal(t, "acme", res.Name)

	res, err = r.Resolve(req, "ACME")
	require.NoError(t, err)
	require.Equal(t, "acme", res.Name)
}
