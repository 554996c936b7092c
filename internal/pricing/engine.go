// Package pricing recalculates trip prices from trusted inputs. It is the only place
// money amounts are produced.
package pricing

import (
	"errors"
	"math"
	"strings"
)

// Money represents a monetary value stored in minor units.
type Money = int64

const (
	fullBps          = 10000
	defaultRoundTrip = 2 * fullBps
	earthRadiusKm    = 6371.0
)

var (
	// ErrInvalidPassengers is returned for passenger counts outside the tenant's limits.
	ErrInvalidPassengers = errors.New("pricing: invalid passenger count")
	// ErrInvalidRoute is returned when pickup or dropoff is missing.
	ErrInvalidRoute = errors.New("pricing: pickup and dropoff are required")
)

// Route is a fixed one-way price between two places, matched in either direction.
type Route struct {
	From        string `json:"from"`
	To          string `json:"to"`
	FromPlaceID string `json:"fromPlaceId,omitempty"`
	ToPlaceID   string `json:"toPlaceId,omitempty"`
	PriceCents  Money  `json:"priceCents" validate:"gt=0"`
}

// Config holds a tenant's pricing parameters.
type Config struct {
	BaseFareCents      Money   `json:"baseFareCents" validate:"gte=0"`
	PerKmCents         Money   `json:"perKmCents" validate:"gte=0"`
	PerPassengerCents  Money   `json:"perPassengerCents" validate:"gte=0"`
	IncludedPassengers int     `json:"includedPassengers" validate:"gte=0"`
	MaxPassengers      int     `json:"maxPassengers" validate:"gte=0"`
	MinimumFareCents   Money   `json:"minimumFareCents" validate:"gte=0"`
	RoundTripBps       int     `json:"roundTripBps" validate:"gte=0"`
	Routes             []Route `json:"routes" validate:"dive"`
}

// Location is one end of a trip.
type Location struct {
	Text    string
	PlaceID string
	Lat     *float64
	Lng     *float64
}

func (l Location) hasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// Trip is the trusted input to a recalculation.
type Trip struct {
	Pickup     Location
	Dropoff    Location
	Passengers int
	RoundTrip  bool
}

// Breakdown aggregates computed pricing components.
type Breakdown struct {
	Route          string
	DistanceKm     float64
	OneWay         Money
	PassengerExtra Money
	Total          Money
}

// Recalculate computes the price of trip under cfg. A zero or negative total is not an
// error here; callers decide whether it is chargeable.
func Recalculate(cfg Config, trip Trip) (Breakdown, error) {
	if strings.TrimSpace(trip.Pickup.Text) == "" && trip.Pickup.PlaceID == "" ||
		strings.TrimSpace(trip.Dropoff.Text) == "" && trip.Dropoff.PlaceID == "" {
		return Breakdown{}, ErrInvalidRoute
	}
	if trip.Passengers < 1 || (cfg.MaxPassengers > 0 && trip.Passengers > cfg.MaxPassengers) {
		return Breakdown{}, ErrInvalidPassengers
	}

	var b Breakdown
	if route, ok := matchRoute(cfg.Routes, trip.Pickup, trip.Dropoff); ok {
		b.Route = route.From + " - " + route.To
		b.OneWay = route.PriceCents
	} else {
		b.OneWay = cfg.BaseFareCents
		if trip.Pickup.hasCoordinates() && trip.Dropoff.hasCoordinates() {
			b.DistanceKm = haversineKm(*trip.Pickup.Lat, *trip.Pickup.Lng, *trip.Dropoff.Lat, *trip.Dropoff.Lng)
			b.OneWay += Money(math.Round(b.DistanceKm * float64(cfg.PerKmCents)))
		}
	}

	if extra := trip.Passengers - cfg.IncludedPassengers; extra > 0 {
		b.PassengerExtra = Money(extra) * cfg.PerPassengerCents
	}
	b.OneWay += b.PassengerExtra
	if b.OneWay < cfg.MinimumFareCents {
		b.OneWay = cfg.MinimumFareCents
	}

	b.Total = b.OneWay
	if trip.RoundTrip {
		bps := cfg.RoundTripBps
		if bps <= 0 {
			bps = defaultRoundTrip
		}
		b.Total = (b.OneWay * Money(bps)) / fullBps
	}
	return b, nil
}

func matchRoute(routes []Route, pickup, dropoff Location) (Route, bool) {
	for _, r := range routes {
		if r.FromPlaceID != "" && r.ToPlaceID != "" && pickup.PlaceID != "" && dropoff.PlaceID != "" {
			if (r.FromPlaceID == pickup.PlaceID && r.ToPlaceID == dropoff.PlaceID) ||
				(r.FromPlaceID == dropoff.PlaceID && r.ToPlaceID == pickup.PlaceID) {
				return r, true
			}
		}
	}
	from, to := normaliseText(pickup.Text), normaliseText(dropoff.Text)
	if from == "" || to == "" {
		return Route{}, false
	}
	for _, r := range routes {
		rf, rt := normaliseText(r.From), normaliseText(r.To)
		if (rf == from && rt == to) || (rf == to && rt == from) {
			return r, true
		}
	}
	return Route{}, false
}

func normaliseText(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
