package liquidity

import (
	"strings"
	"testing"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func allTiers(e *Engine) []models.FilterTier {
	var out []models.FilterTier
	for _, ct := range e.opts.ClassTiers {
		out = append(out, ct.Primary)
		if ct.Fallback != nil {
			out = append(out, *ct.Fallback)
		}
	}
	out = append(out, e.opts.CheapLadder...)
	return append(out, e.opts.PremiumLadder...)
}

func TestJunkQuoteRejectedEverywhere(t *testing.T) {
	e := NewEngine(DefaultOptions())
	for _, tr := range allTiers(e) {
		ok, reason := e.Passes(tr, d("0.04"), d("0.08"), 1_000_000, 1_000_000)
		assert.False(t, ok, tr.Name)
		assert.True(t, strings.HasPrefix(reason, ReasonJunk), reason)
	}
}

func TestZeroAskRejectedEverywhere(t *testing.T) {
	e := NewEngine(DefaultOptions())
	for _, tr := range allTiers(e) {
		ok, reason := e.Passes(tr, d("0.10"), decimal.Zero, 1_000_000, 1_000_000)
		assert.False(t, ok)
		assert.True(t, strings.HasPrefix(reason, ReasonNoAsk), reason)
	}
}

func TestLiquidTierAndFallback(t *testing.T) {
	e := NewEngine(DefaultOptions())
	ct := e.Tiers(models.ClassLiquid)
	require.NotNil(t, ct.Fallback)

	ok, reason := e.Passes(ct.Primary, d("2.40"), d("2.50"), 6000, 100)
	assert.True(t, ok, reason)

	ok, reason = e.Passes(ct.Primary, d("2.40"), d("2.50"), 4000, 100)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, ReasonOpenInterest), reason)

	ok, reason = e.Passes(*ct.Fallback, d("2.40"), d("2.50"), 4000, 100)
	assert.True(t, ok, reason)
}

func TestRuleOrder(t *testing.T) {
	e := NewEngine(DefaultOptions())
	liquid := e.Tiers(models.ClassLiquid).Primary

	// Percentage spread is checked before open interest.
	_, reason := e.Passes(liquid, d("2.00"), d("2.50"), 10, 0)
	assert.True(t, strings.HasPrefix(reason, ReasonSpreadPct), reason)

	// Absolute cap only applies to cheap options: 0.12 on a 0.96 mid is 12.5%.
	wide := liquid
	wide.MaxSpreadPct = 50
	_, reason = e.Passes(wide, d("0.90"), d("1.02"), 10_000, 100)
	assert.True(t, strings.HasPrefix(reason, ReasonSpreadAbs), reason)

	// The same dollar spread on a 5.00 option is fine.
	ok, reason := e.Passes(wide, d("4.94"), d("5.06"), 10_000, 100)
	assert.True(t, ok, reason)

	_, reason = e.Passes(liquid, d("2.45"), d("2.50"), 10_000, 5)
	assert.True(t, strings.HasPrefix(reason, ReasonVolume), reason)
}

func TestMissingBidSynthesized(t *testing.T) {
	s := Measure(decimal.Zero, d("1.00"))
	assert.True(t, s.Bid.Equal(d("0.50")))
	assert.True(t, s.Mid.Equal(d("0.75")))
	assert.InDelta(t, 66.67, s.Pct, 0.01)
}

func TestGuardrailsOverridable(t *testing.T) {
	opts := DefaultOptions()
	opts.Guardrails.JunkSpreadPct = 1000
	e := NewEngine(opts)
	loose := models.FilterTier{Name: "loose", MaxSpreadAbs: d("1"), MaxSpreadPct: 1000}

	ok, reason := e.Passes(loose, d("0.04"), d("0.08"), 0, 0)
	assert.True(t, ok, reason)
}

func TestUnknownClassUsesUnknownTier(t *testing.T) {
	e := NewEngine(DefaultOptions())
	ct := e.Tiers(models.UnderlyingClass("EXOTIC"))
	assert.Equal(t, "unknown", ct.Primary.Name)
	assert.Nil(t, ct.Fallback)
}

func TestFilterSummary(t *testing.T) {
	e := NewEngine(DefaultOptions())
	s := e.FilterSummary("SPY", models.ClassLiquid)
	assert.Contains(t, s, "OI>=5000")
	assert.Contains(t, s, "Vol>=50")
	assert.Contains(t, s, "fallback: OI>=2000")

	s = e.FilterSummary("XLF", models.ClassSector)
	assert.NotContains(t, s, "Vol>=")
}
