package payment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booking-payments/internal/payment"
	"github.com/noah-isme/booking-payments/internal/pricing"
	"github.com/noah-isme/booking-payments/internal/store"
	"github.com/noah-isme/booking-payments/internal/tenant"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAdapter struct {
	gw       payment.Gateway
	captures bool
	delay    time.Duration

	mu    sync.Mutex
	err   error
	calls int
	reqs  []payment.ChargeRequest
}

func (f *fakeAdapter) Gateway() payment.Gateway { return f.gw }
func (f *fakeAdapter) Captures() bool          { return f.captures }

func (f *fakeAdapter) Charge(_ context.Context, _ tenant.Credentials, req payment.ChargeRequest) (payment.ChargeResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return payment.ChargeResult{}, f.err
	}
	res := payment.ChargeResult{Gateway: f.gw, ChargeID: "ch_" + req.AttemptID}
	switch f.gw {
	case payment.GatewaySquare:
		res.Status = "COMPLETED"
		res.ReceiptURL = "https://squareup.example/receipt/" + req.AttemptID
		res.RedirectURL = req.SuccessURL
	case payment.GatewayStripe:
		res.SessionID = "cs_" + req.AttemptID
		res.RedirectURL = "https://checkout.stripe.example/" + req.AttemptID
	default:
		res.RedirectURL = "https://wipay.example/pay/" + req.AttemptID
	}
	return res, nil
}

func (f *fakeAdapter) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc      *payment.Service
	clock    *fakeClock
	registry *tenant.Registry
	quotes   *store.Memory[payment.Quote]
	attempts *store.Memory[payment.Attempt]
	consumed *store.Memory[payment.Consumed]
	square   *fakeAdapter
	stripe   *fakeAdapter
	wipay    *fakeAdapter
}

func testTenants(t *testing.T) *tenant.Static {
	t.Helper()
	dir, err := tenant.NewStatic(
		tenant.Config{
			Name:    "acme",
			Origins: []string{"https://acme.example"},
			Pricing: pricing.Config{
				BaseFareCents:      3000,
				PerPassengerCents:  500,
				IncludedPassengers: 1,
				MaxPassengers:      8,
				Routes:             []pricing.Route{{From: "Airport", To: "Hotel", PriceCents: 4000}},
			},
			Gateways: map[string]tenant.Credentials{
				"square": {AccessToken: "sq-acme", LocationID: "L-ACME", Environment: tenant.EnvironmentTest},
				"stripe": {SecretKey: "sk_test_acme", Environment: tenant.EnvironmentTest},
				"wipay":  {AccountNumber: "1234", Environment: tenant.EnvironmentTest, FeeStructure: "merchant_absorb", FeeLocked: true},
			},
			Checkout: tenant.Checkout{SuccessURL: "https://acme.example/thanks", CancelURL: "https://acme.example/cancel"},
		},
		tenant.Config{
			Name:    "beta",
			Origins: []string{"https://beta.example"},
			Pricing: pricing.Config{
				BaseFareCents: 5000,
				Routes:        []pricing.Route{{From: "Airport", To: "Hotel", PriceCents: 6500}},
			},
			Gateways: map[string]tenant.Credentials{
				"square": {AccessToken: "sq-beta", LocationID: "L-BETA", Environment: tenant.EnvironmentTest},
			},
		},
		tenant.Config{
			Name:    "free",
			Origins: []string{"https://free.example"},
		},
	)
	require.NoError(t, err)
	return dir
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	f := &fixture{
		clock:    clock,
		registry: tenant.NewRegistry(testTenants(t), time.Second),
		quotes:   store.NewMemory[payment.Quote]().WithClock(clock.Now),
		attempts: store.NewMemory[payment.Attempt]().WithClock(clock.Now),
		consumed: store.NewMemory[payment.Consumed]().WithClock(clock.Now),
		square:   &fakeAdapter{gw: payment.GatewaySquare, captures: true},
		stripe:   &fakeAdapter{gw: payment.GatewayStripe},
		wipay:    &fakeAdapter{gw: payment.GatewayWiPay},
	}
	ids := 0
	var idMu sync.Mutex
	f.svc = &payment.Service{
		Quotes:   f.quotes,
		Attempts: f.attempts,
		Consumed: f.consumed,
		Tenants:  f.registry,
		Adapters: map[payment.Gateway]payment.Adapter{
			payment.GatewaySquare: f.square,
			payment.GatewayStripe: f.stripe,
			payment.GatewayWiPay:  f.wipay,
		},
		QuoteTTL:    60 * time.Minute,
		AttemptTTL:  30 * time.Minute,
		ConsumedTTL: 24 * time.Hour,
		Currency:    "usd",
		Now:         clock.Now,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			ids++
			return fmt.Sprintf("pa_%03d", ids)
		},
	}
	return f
}

func airportTrip(quoteID string) payment.CreateInput {
	return payment.CreateInput{
		QuoteID:    quoteID,
		Pickup:     payment.Place{Text: "Airport"},
		Dropoff:    payment.Place{Text: "Hotel"},
		Passengers: 2,
		Contact:    payment.Contact{Email: "rider@example.com"},
	}
}
