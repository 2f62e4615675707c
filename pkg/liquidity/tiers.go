package liquidity

import (
	"fmt"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

// ClassTiers pairs a class's primary tier with its optional looser fallback.
type ClassTiers struct {
	Primary  models.FilterTier
	Fallback *models.FilterTier
}

func tier(name string, oi, vol int64, abs string, pct float64, hasFallback bool) models.FilterTier {
	return models.FilterTier{
		Name:            name,
		MinOpenInterest: oi,
		MinVolume:       vol,
		MaxSpreadAbs:    decimal.RequireFromString(abs),
		MaxSpreadPct:    pct,
		HasFallback:     hasFallback,
	}
}

func withFallback(primary, fallback models.FilterTier) ClassTiers {
	return ClassTiers{Primary: primary, Fallback: &fallback}
}

// DefaultClassTiers are ordered strictest to loosest within each class. The
// fallback keeps the primary volume floor.
func DefaultClassTiers() map[models.UnderlyingClass]ClassTiers {
	return map[models.UnderlyingClass]ClassTiers{
		models.ClassLiquid: withFallback(
			tier("liquid", 5000, 50, "0.10", 8, true),
			tier("liquid_fallback", 2000, 50, "0.15", 12, false),
		),
		models.ClassStandard: withFallback(
			tier("standard", 2000, 10, "0.15", 12, true),
			tier("standard_fallback", 1000, 10, "0.20", 18, false),
		),
		models.ClassSector: withFallback(
			tier("sector", 1000, 0, "0.25", 20, true),
			tier("sector_fallback", 500, 0, "0.35", 30, false),
		),
		models.ClassVolatility: {Primary: tier("volatility", 1500, 20, "0.20", 15, false)},
		models.ClassUnknown:    {Primary: tier("unknown", 2000, 10, "0.15", 15, false)},
	}
}

// Ladder tier names, strictest first.
const (
	LadderStrict            = "strict"
	LadderModerate          = "moderate"
	LadderRelaxed           = "relaxed"
	LadderFallback          = "fallback"
	LadderEmergencyFallback = "emergency_fallback"
)

// DefaultCheapLadder applies to contracts whose mid is under the ladder
// break, where percentage spread balloons naturally.
func DefaultCheapLadder() []models.FilterTier {
	return []models.FilterTier{
		tier(LadderStrict, 1000, 50, "0.05", 25, true),
		tier(LadderModerate, 500, 25, "0.08", 35, true),
		tier(LadderRelaxed, 250, 10, "0.10", 50, true),
		tier(LadderFallback, 100, 5, "0.15", 75, true),
		tier(LadderEmergencyFallback, 50, 1, "0.20", 100, false),
	}
}

func DefaultPremiumLadder() []models.FilterTier {
	return []models.FilterTier{
		tier(LadderStrict, 2000, 100, "0.10", 8, true),
		tier(LadderModerate, 1000, 50, "0.15", 12, true),
		tier(LadderRelaxed, 500, 25, "0.20", 18, true),
		tier(LadderFallback, 250, 10, "0.30", 25, true),
		tier(LadderEmergencyFallback, 100, 1, "0.50", 35, false),
	}
}

// FilterSummary renders a class's thresholds for logs and the CLI.
func (e *Engine) FilterSummary(underlying string, class models.UnderlyingClass) string {
	ct := e.Tiers(class)
	p := ct.Primary
	s := fmt.Sprintf("%s (%s tier): OI>=%d", underlying, class, p.MinOpenInterest)
	if p.MinVolume > 0 {
		s += fmt.Sprintf(", Vol>=%d", p.MinVolume)
	}
	s += fmt.Sprintf(", Spread<=$%s or %.1f%%", p.MaxSpreadAbs.StringFixed(2), p.MaxSpreadPct)
	if ct.Fallback != nil {
		s += fmt.Sprintf(" (fallback: OI>=%d, Spread<=$%s)", ct.Fallback.MinOpenInterest, ct.Fallback.MaxSpreadAbs.StringFixed(2))
	}
	return s
}
