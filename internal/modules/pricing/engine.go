// README: Pure fare arithmetic: coefficient selection, peak and class modifiers, rounding.
package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"maat/internal/modules/account"
	"maat/internal/types"
)

// CoefficientFare prices distanceKm with the smallest interval that covers it,
// falling back to the flat per-km rate when none does.
func CoefficientFare(coeffs []Coefficient, distanceKm float64, flatRatePerKm int64) Base {
	sorted := make([]Coefficient, len(coeffs))
	copy(sorted, coeffs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IntervalKm < sorted[j].IntervalKm })

	d := decimal.NewFromFloat(distanceKm)
	for _, c := range sorted {
		if c.IntervalKm >= distanceKm {
			amount := decimal.NewFromInt(c.A).Add(decimal.NewFromInt(c.B).Mul(d))
			return Base{Amount: amount, Tier: TierCoefficient, DistanceKm: distanceKm}
		}
	}
	return FlatFare(distanceKm, flatRatePerKm)
}

func FlatFare(distanceKm float64, flatRatePerKm int64) Base {
	amount := decimal.NewFromInt(flatRatePerKm).Mul(decimal.NewFromFloat(distanceKm))
	return Base{Amount: amount, Tier: TierFlat, DistanceKm: distanceKm}
}

// IsPeak reports whether at falls inside a peak window, evaluated in the rules' time zone.
func (r Rules) IsPeak(at time.Time) bool {
	if r.Location != nil {
		at = at.In(r.Location)
	}
	hour := at.Hour()
	for _, w := range r.PeakWindows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

// Apply runs the modifiers over base in order (peak, then class discount), rounds to
// the granularity and clamps to the minimum fare. profileRounding > 0 overrides the
// configured granularity.
func Apply(r Rules, base Base, class account.Class, at time.Time, profileRounding int64) Quote {
	breakdown := map[string]int64{}
	amount := base.Amount
	breakdown["base"] = amount.Round(0).IntPart()

	peak := r.IsPeak(at)
	if peak && !r.PeakMultiplier.IsZero() {
		next := amount.Mul(r.PeakMultiplier)
		breakdown["peak_surcharge"] = next.Sub(amount).Round(0).IntPart()
		amount = next
	}
	if class == account.ClassRegular && !r.RegularDiscount.IsZero() {
		next := amount.Mul(r.RegularDiscount)
		breakdown["class_discount"] = next.Sub(amount).Round(0).IntPart()
		amount = next
	}

	granularity := r.Granularity
	if profileRounding > 0 {
		granularity = profileRounding
	}
	final := roundTo(amount, granularity)
	parts := breakdown["base"] + breakdown["peak_surcharge"] + breakdown["class_discount"]
	if adj := final - parts; adj != 0 {
		breakdown["rounding"] = adj
	}
	if final < r.MinimumFare {
		breakdown["minimum_adjustment"] = r.MinimumFare - final
		final = r.MinimumFare
	}

	return Quote{
		Amount:     final,
		Currency:   types.Currency,
		Tier:       base.Tier,
		DistanceKm: base.DistanceKm,
		Peak:       peak,
		Breakdown:  breakdown,
	}
}

// roundTo snaps amount to the nearest multiple of granularity, halves rounding up.
func roundTo(amount decimal.Decimal, granularity int64) int64 {
	if granularity <= 1 {
		return amount.Round(0).IntPart()
	}
	g := decimal.NewFromInt(granularity)
	return amount.Div(g).Round(0).Mul(g).IntPart()
}
