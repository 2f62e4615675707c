// Package liquidity decides whether an option quote is liquid enough to
// trade. Rejections come back as machine-readable reasons, never errors.
package liquidity

import (
	"fmt"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

// Reason codes prefix every rejection string.
const (
	ReasonNoAsk        = "no_ask"
	ReasonJunk         = "junk_liquidity"
	ReasonSpreadPct    = "spread_pct"
	ReasonSpreadAbs    = "spread_abs"
	ReasonOpenInterest = "open_interest"
	ReasonVolume       = "volume"
	ReasonProgressive  = "progressive"
)

// Guardrails are empirically tuned constants kept overridable.
type Guardrails struct {
	// A quote wider than JunkSpreadPct with a mid under JunkMaxMid is
	// rejected under every tier.
	JunkSpreadPct float64
	JunkMaxMid    decimal.Decimal
	// The absolute-spread cap only applies below LowPriceMid.
	LowPriceMid decimal.Decimal
}

func DefaultGuardrails() Guardrails {
	return Guardrails{
		JunkSpreadPct: 35,
		JunkMaxMid:    decimal.RequireFromString("0.10"),
		LowPriceMid:   decimal.NewFromInt(1),
	}
}

type Options struct {
	ClassTiers    map[models.UnderlyingClass]ClassTiers
	Guardrails    Guardrails
	Progressive   ProgressiveConfig
	CheapLadder   []models.FilterTier
	PremiumLadder []models.FilterTier
	// LadderBreak splits the cheap and premium ladders by mid price.
	LadderBreak decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		ClassTiers:    DefaultClassTiers(),
		Guardrails:    DefaultGuardrails(),
		Progressive:   DefaultProgressiveConfig(),
		CheapLadder:   DefaultCheapLadder(),
		PremiumLadder: DefaultPremiumLadder(),
		LadderBreak:   decimal.RequireFromString("0.50"),
	}
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) Tiers(class models.UnderlyingClass) ClassTiers {
	if ct, ok := e.opts.ClassTiers[class]; ok {
		return ct
	}
	return e.opts.ClassTiers[models.ClassUnknown]
}

// Spread holds the quote measurements used by every rule.
type Spread struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
	Mid decimal.Decimal
	Abs decimal.Decimal
	Pct float64
}

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// Measure computes spread figures, estimating a missing bid as ask/2. The
// estimate is a convention for spread math only, not a quote.
func Measure(bid, ask decimal.Decimal) Spread {
	if !bid.IsPositive() && ask.IsPositive() {
		bid = ask.Div(two)
	}
	s := Spread{Bid: bid, Ask: ask, Mid: bid.Add(ask).Div(two), Abs: ask.Sub(bid)}
	if s.Mid.IsPositive() {
		s.Pct = s.Abs.Div(s.Mid).Mul(hundred).InexactFloat64()
	} else {
		s.Pct = 1000
	}
	return s
}

func (e *Engine) junk(s Spread) bool {
	return s.Pct > e.opts.Guardrails.JunkSpreadPct && s.Mid.LessThan(e.opts.Guardrails.JunkMaxMid)
}

// Passes applies the tier rules in order: valid ask, junk guardrail,
// percentage spread, low-price absolute spread, open interest, volume.
func (e *Engine) Passes(t models.FilterTier, bid, ask decimal.Decimal, openInterest, volume int64) (bool, string) {
	if !ask.IsPositive() {
		return false, fmt.Sprintf("%s: ask %s", ReasonNoAsk, ask.String())
	}
	s := Measure(bid, ask)

	if e.junk(s) {
		return false, fmt.Sprintf("%s: spread %.1f%% with mid $%s", ReasonJunk, s.Pct, s.Mid.StringFixed(3))
	}
	if s.Pct > t.MaxSpreadPct {
		return false, fmt.Sprintf("%s: %.1f%% > %.1f%% (%s)", ReasonSpreadPct, s.Pct, t.MaxSpreadPct, t.Name)
	}
	if s.Mid.LessThan(e.opts.Guardrails.LowPriceMid) && s.Abs.GreaterThan(t.MaxSpreadAbs) {
		return false, fmt.Sprintf("%s: $%s > $%s (%s)", ReasonSpreadAbs, s.Abs.StringFixed(3), t.MaxSpreadAbs.StringFixed(3), t.Name)
	}
	if openInterest < t.MinOpenInterest {
		return false, fmt.Sprintf("%s: %d < %d (%s)", ReasonOpenInterest, openInterest, t.MinOpenInterest, t.Name)
	}
	if volume < t.MinVolume {
		return false, fmt.Sprintf("%s: %d < %d (%s)", ReasonVolume, volume, t.MinVolume, t.Name)
	}
	return true, fmt.Sprintf("passes %s (OI:%d, Vol:%d, Spread:$%s/%.1f%%)", t.Name, openInterest, volume, s.Abs.StringFixed(3), s.Pct)
}

// PassesCandidate is Passes for a contract candidate.
func (e *Engine) PassesCandidate(t models.FilterTier, c models.ContractCandidate) (bool, string) {
	return e.Passes(t, c.Bid, c.Ask, c.OpenInterest, c.Volume)
}
