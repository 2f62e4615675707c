package selector

import (
	"math"
	"sort"

	"github.com/gregtusar/zerodte/pkg/liquidity"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

var scaleMultipliers = []float64{0.25, 0.5, 1, 2, 4}

// inferStrikeScale looks for a multiplier that moves the median strike much
// closer to spot, as happens with split-adjusted deliverables. It returns 1
// unless the best multiplier beats no scaling by the configured margin.
func (s *Selector) inferStrikeScale(contracts []models.ContractCandidate, spot decimal.Decimal) float64 {
	spotF := spot.InexactFloat64()
	if len(contracts) == 0 || spotF <= 0 {
		return 1
	}
	strikes := make([]float64, len(contracts))
	for i, c := range contracts {
		strikes[i] = c.Strike.InexactFloat64()
	}
	sort.Float64s(strikes)
	median := stat.Quantile(0.5, stat.Empirical, strikes, nil)

	errPct := func(m float64) float64 { return math.Abs(median*m-spotF) / spotF * 100 }
	base := errPct(1)
	best, bestErr := 1.0, base
	for _, m := range scaleMultipliers {
		if e := errPct(m); e < bestErr {
			best, bestErr = m, e
		}
	}
	if best == 1 {
		return 1
	}
	gain := base - bestErr
	if gain >= s.cfg.ScaleMinImprovementPts || (base > 0 && gain/base >= s.cfg.ScaleMinImprovementRel) {
		return best
	}
	return 1
}

func rescale(contracts []models.ContractCandidate, scale float64) []models.ContractCandidate {
	if scale == 1 {
		return contracts
	}
	m := decimal.NewFromFloat(scale)
	out := make([]models.ContractCandidate, len(contracts))
	for i, c := range contracts {
		out[i] = c.WithStrike(c.Strike.Mul(m))
	}
	return out
}

// deltaSane drops contracts whose delta says they are far from the money
// while their strike agrees.
func (s *Selector) deltaSane(contracts []models.ContractCandidate, spot decimal.Decimal) []models.ContractCandidate {
	out := contracts[:0:0]
	for _, c := range contracts {
		if c.Delta != nil {
			d := math.Abs(*c.Delta)
			dist := c.Strike.Sub(spot).Abs().Div(spot).Mul(decimal.NewFromInt(100)).InexactFloat64()
			if (d < s.cfg.DeltaMin || d > s.cfg.DeltaMax) && dist > s.cfg.DeltaMaxDistancePct {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// rank orders by distance from the money, then spread, then volume.
func rank(contracts []models.ContractCandidate, spot decimal.Decimal) {
	sort.SliceStable(contracts, func(i, j int) bool {
		a, b := contracts[i], contracts[j]
		da, db := a.Strike.Sub(spot).Abs(), b.Strike.Sub(spot).Abs()
		if !da.Equal(db) {
			return da.LessThan(db)
		}
		pa, pb := liquidity.Measure(a.Bid, a.Ask).Pct, liquidity.Measure(b.Bid, b.Ask).Pct
		if pa != pb {
			return pa < pb
		}
		return a.Volume > b.Volume
	})
}
