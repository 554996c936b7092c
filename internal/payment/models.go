package payment

import (
	"strings"
	"time"
)

// Gateway names a payment processor integration.
type Gateway string

const (
	// GatewaySquare charges a tokenized card and captures immediately.
	GatewaySquare Gateway = "square"
	// GatewayStripe creates a hosted checkout session.
	GatewayStripe Gateway = "stripe"
	// GatewayWiPay redirects to the processor's hosted payment page.
	GatewayWiPay Gateway = "wipay"
)

// ParseGateway maps a case-insensitive name onto a known gateway.
func ParseGateway(name string) (Gateway, bool) {
	switch g := Gateway(strings.ToLower(strings.TrimSpace(name))); g {
	case GatewaySquare, GatewayStripe, GatewayWiPay:
		return g, true
	default:
		return "", false
	}
}

// Place is one end of a quoted trip.
type Place struct {
	Text    string   `json:"text"`
	PlaceID string   `json:"placeId,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Contact holds the only customer details retained, for receipts.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// TripMetadata is browser-reported trip information. It is kept for display and
// support and is never used to compute money.
type TripMetadata struct {
	DistanceKm  float64 `json:"distanceKm,omitempty"`
	DurationMin float64 `json:"durationMin,omitempty"`
	QuotedAt    string  `json:"quotedAt,omitempty"`
}

// Quote is a priced-trip snapshot used only as recalculation input.
type Quote struct {
	ID         string       `json:"id"`
	Tenant     string       `json:"tenant"`
	Pickup     Place        `json:"pickup"`
	Dropoff    Place        `json:"dropoff"`
	Passengers int          `json:"passengers"`
	RoundTrip  bool         `json:"roundTrip"`
	Trip       TripMetadata `json:"tripMetadata"`
	Contact    Contact      `json:"contact"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// Attempt binds a server-computed amount to a single-use idempotency key.
type Attempt struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	QuoteID     string    `json:"quoteId"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Gateway     Gateway   `json:"gateway,omitempty"`
	Contact     Contact   `json:"contact"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Consumed records an attempt that a capturing gateway has charged. A later submit of
// the same attempt id replays Result instead of charging again.
type Consumed struct {
	Attempt    Attempt      `json:"attempt"`
	Result     ChargeResult `json:"result"`
	ConsumedAt time.Time    `json:"consumedAt"`
}
