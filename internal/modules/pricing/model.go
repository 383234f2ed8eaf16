// README: Pricing catalog records, rule set and fare quote types.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"maat/internal/config"
	"maat/internal/modules/account"
	"maat/internal/modules/station"
	"maat/internal/types"
)

type Tier string

const (
	TierDirect      Tier = "direct"
	TierReverse     Tier = "reverse"
	TierCoefficient Tier = "coefficient"
	TierFlat        Tier = "flat"
	TierMinimum     Tier = "minimum"
)

// Profile groups a fare table and coefficients. Rounding overrides the configured
// granularity when positive.
type Profile struct {
	ID       types.ID
	Name     string
	Rounding int64
}

// Coefficient prices distances up to IntervalKm as A + B*km (minor units).
type Coefficient struct {
	IntervalKm float64
	A          int64
	B          int64
}

// Rules are the configured modifiers applied after the base amount is resolved.
type Rules struct {
	PeakWindows     []config.Window
	PeakMultiplier  decimal.Decimal
	RegularDiscount decimal.Decimal
	Granularity     int64
	MinimumFare     int64
	FlatRatePerKm   int64
	Location        *time.Location
}

func RulesFromConfig(cfg config.PricingConfig) (Rules, error) {
	if cfg.MinimumFare <= 0 {
		return Rules{}, fmt.Errorf("pricing minimum fare must be positive, got %d", cfg.MinimumFare)
	}
	windows, err := cfg.Windows()
	if err != nil {
		return Rules{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return Rules{}, fmt.Errorf("pricing time zone: %w", err)
	}
	return Rules{
		PeakWindows:     windows,
		PeakMultiplier:  decimal.NewFromFloat(cfg.PeakMultiplier),
		RegularDiscount: decimal.NewFromFloat(cfg.RegularDiscount),
		Granularity:     cfg.Granularity,
		MinimumFare:     cfg.MinimumFare,
		FlatRatePerKm:   cfg.FlatRatePerKm,
		Location:        loc,
	}, nil
}

type Request struct {
	From  station.Station
	To    station.Station
	Class account.Class
	// At defaults to the service clock when zero.
	At time.Time
}

type Quote struct {
	Amount     int64            `json:"amount"`
	Currency   string           `json:"currency"`
	Tier       Tier             `json:"tier"`
	DistanceKm float64          `json:"distance_km"`
	Peak       bool             `json:"peak"`
	Breakdown  map[string]int64 `json:"breakdown"`
}

// Base is the resolved amount before modifiers.
type Base struct {
	Amount     decimal.Decimal
	Tier       Tier
	DistanceKm float64
}
