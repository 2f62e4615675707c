package liquidity

import (
	"fmt"
	"strings"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

// ProgressiveConfig trades open interest for confirmed trading activity on
// near-dated ETF contracts. The volume floors are empirical.
type ProgressiveConfig struct {
	MaxDTE int

	Step1MinVolume    int64
	Step1MaxSpreadAbs decimal.Decimal
	Step1MaxSpreadPct float64
	// RelaxedOpenInterest is the step-1 OI floor per class. Classes missing
	// here never relax.
	RelaxedOpenInterest map[models.UnderlyingClass]int64

	Step2MinVolume    int64
	Step2MaxSpreadAbs decimal.Decimal
	Step2MaxSpreadPct float64
}

func DefaultProgressiveConfig() ProgressiveConfig {
	return ProgressiveConfig{
		MaxDTE:            1,
		Step1MinVolume:    50,
		Step1MaxSpreadAbs: decimal.RequireFromString("0.30"),
		Step1MaxSpreadPct: 20,
		RelaxedOpenInterest: map[models.UnderlyingClass]int64{
			models.ClassVolatility: 250,
			models.ClassSector:     250,
			models.ClassLiquid:     500,
			models.ClassStandard:   500,
		},
		Step2MinVolume:    25,
		Step2MaxSpreadAbs: decimal.RequireFromString("0.25"),
		Step2MaxSpreadPct: 15,
	}
}

// Outcome of a progressive check. Step is the step that passed (0, 1, 2) or
// -1 when none did.
type Outcome struct {
	Pass   bool
	Step   int
	Reason string
}

// ProgressiveApplies reports whether progressive relaxation is allowed at all.
func (e *Engine) ProgressiveApplies(class models.UnderlyingClass, dte int) bool {
	if dte < 0 || dte > e.opts.Progressive.MaxDTE || !class.IsETFLike() {
		return false
	}
	_, ok := e.opts.Progressive.RelaxedOpenInterest[class]
	return ok
}

// PassesProgressive runs the standard tier check and, for near-dated ETF
// contracts, the two relaxation steps.
func (e *Engine) PassesProgressive(t models.FilterTier, class models.UnderlyingClass, dte int, bid, ask decimal.Decimal, openInterest, volume int64) Outcome {
	ok, reason := e.Passes(t, bid, ask, openInterest, volume)
	if ok {
		return Outcome{Pass: true, Step: 0, Reason: reason}
	}
	if !e.ProgressiveApplies(class, dte) {
		return Outcome{Step: -1, Reason: reason}
	}
	reasons := []string{"step0 " + reason}

	s := Measure(bid, ask)
	if !ask.IsPositive() || e.junk(s) {
		return Outcome{Step: -1, Reason: composite(dte, reasons)}
	}

	p := e.opts.Progressive
	floor := p.RelaxedOpenInterest[class]
	switch {
	case volume < p.Step1MinVolume:
		reasons = append(reasons, fmt.Sprintf("step1 volume %d < %d", volume, p.Step1MinVolume))
	case openInterest < floor:
		reasons = append(reasons, fmt.Sprintf("step1 OI %d < relaxed %d", openInterest, floor))
	case s.Abs.GreaterThan(p.Step1MaxSpreadAbs) || s.Pct > p.Step1MaxSpreadPct:
		reasons = append(reasons, fmt.Sprintf("step1 spread $%s/%.1f%% > $%s/%.1f%%",
			s.Abs.StringFixed(3), s.Pct, p.Step1MaxSpreadAbs.StringFixed(2), p.Step1MaxSpreadPct))
	default:
		return Outcome{Pass: true, Step: 1, Reason: fmt.Sprintf("progressive step1 (DTE=%d, OI:%d>=%d, Vol:%d)", dte, openInterest, floor, volume)}
	}

	switch {
	case volume < p.Step2MinVolume:
		reasons = append(reasons, fmt.Sprintf("step2 volume %d < %d", volume, p.Step2MinVolume))
	case s.Abs.GreaterThan(p.Step2MaxSpreadAbs) || s.Pct > p.Step2MaxSpreadPct:
		reasons = append(reasons, fmt.Sprintf("step2 spread $%s/%.1f%% > $%s/%.1f%%",
			s.Abs.StringFixed(3), s.Pct, p.Step2MaxSpreadAbs.StringFixed(2), p.Step2MaxSpreadPct))
	default:
		return Outcome{Pass: true, Step: 2, Reason: fmt.Sprintf("progressive step2 (DTE=%d, Vol:%d, OI ignored)", dte, volume)}
	}

	return Outcome{Step: -1, Reason: composite(dte, reasons)}
}

func composite(dte int, reasons []string) string {
	return fmt.Sprintf("%s: DTE=%d; %s", ReasonProgressive, dte, strings.Join(reasons, "; "))
}
