package liquidity

import (
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

// LadderFor returns the price-band ladder for a contract with the given mid.
func (e *Engine) LadderFor(mid decimal.Decimal) []models.FilterTier {
	if mid.LessThan(e.opts.LadderBreak) {
		return e.opts.CheapLadder
	}
	return e.opts.PremiumLadder
}

// LadderResult reports which ladder rung produced survivors.
type LadderResult struct {
	Tier      string
	Survivors []models.ContractCandidate
	// Counts holds pass counts per rung that was evaluated.
	Counts map[string]int
}

// FilterLadder walks the rungs strictly in order. Each candidate is judged
// against the rung of its own price band; the first rung with at least one
// survivor wins and looser rungs are never consulted.
func (e *Engine) FilterLadder(candidates []models.ContractCandidate) LadderResult {
	res := LadderResult{Counts: make(map[string]int)}
	rungs := len(e.opts.PremiumLadder)
	if n := len(e.opts.CheapLadder); n > rungs {
		rungs = n
	}

	for i := 0; i < rungs; i++ {
		var (
			survivors []models.ContractCandidate
			name      string
		)
		for _, c := range candidates {
			ladder := e.LadderFor(Measure(c.Bid, c.Ask).Mid)
			if i >= len(ladder) {
				continue
			}
			name = ladder[i].Name
			if ok, _ := e.PassesCandidate(ladder[i], c); ok {
				survivors = append(survivors, c)
			}
		}
		if name == "" {
			continue
		}
		res.Counts[name] = len(survivors)
		if len(survivors) > 0 {
			res.Tier = name
			res.Survivors = survivors
			return res
		}
	}
	return res
}
