package selector

import (
	"strings"
	"time"
)

// UnderlyingConfig holds per-underlying selection overrides.
type UnderlyingConfig struct {
	AllowSharesFallback bool    `mapstructure:"allow_shares_fallback"`
	SharesBudgetPct     float64 `mapstructure:"shares_budget_pct"`
	DynamicTiers        bool    `mapstructure:"dynamic_tiers"`
}

type Config struct {
	// NearMoneyPct bounds the quote-sanity sample around spot (0.05 = 5%).
	NearMoneyPct     float64 `mapstructure:"near_money_pct"`
	NearestStrikes   int     `mapstructure:"nearest_strikes"`
	MinQuoteCoverage float64 `mapstructure:"min_quote_coverage"`
	QuoteConcurrency int     `mapstructure:"quote_concurrency"`

	DiscoveryMaxDTE  int `mapstructure:"discovery_max_dte"`
	FallbackExpiries int `mapstructure:"fallback_expiries"`

	DataIntegrityCooldown time.Duration `mapstructure:"data_integrity_cooldown"`
	NoExpiryCooldown      time.Duration `mapstructure:"no_expiry_cooldown"`

	ScaleMinImprovementPts float64 `mapstructure:"scale_min_improvement_pts"`
	ScaleMinImprovementRel float64 `mapstructure:"scale_min_improvement_rel"`

	DeltaMin            float64 `mapstructure:"delta_min"`
	DeltaMax            float64 `mapstructure:"delta_max"`
	DeltaMaxDistancePct float64 `mapstructure:"delta_max_distance_pct"`

	Underlyings map[string]UnderlyingConfig `mapstructure:"underlyings"`
}

func DefaultConfig() Config {
	return Config{
		NearMoneyPct:           0.05,
		NearestStrikes:         10,
		MinQuoteCoverage:       0.30,
		QuoteConcurrency:       8,
		DiscoveryMaxDTE:        7,
		FallbackExpiries:       2,
		DataIntegrityCooldown:  30 * time.Minute,
		NoExpiryCooldown:       5 * time.Minute,
		ScaleMinImprovementPts: 1.5,
		ScaleMinImprovementRel: 0.40,
		DeltaMin:               0.45,
		DeltaMax:               0.55,
		DeltaMaxDistancePct:    2,
		Underlyings:            map[string]UnderlyingConfig{},
	}
}

func (c Config) underlying(symbol string) UnderlyingConfig {
	if u, ok := c.Underlyings[symbol]; ok {
		return u
	}
	// viper lower-cases map keys
	return c.Underlyings[strings.ToLower(symbol)]
}
