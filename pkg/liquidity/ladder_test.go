package liquidity

import (
	"testing"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func cand(sym, bid, ask string, oi, vol int64) models.ContractCandidate {
	return models.ContractCandidate{
		Symbol:       sym,
		Bid:          decimal.RequireFromString(bid),
		Ask:          decimal.RequireFromString(ask),
		OpenInterest: oi,
		Volume:       vol,
	}
}

func TestLadderForPriceBand(t *testing.T) {
	e := NewEngine(DefaultOptions())
	assert.Equal(t, int64(1000), e.LadderFor(d("0.30"))[0].MinOpenInterest)
	assert.Equal(t, int64(2000), e.LadderFor(d("0.50"))[0].MinOpenInterest)
}

func TestFilterLadderStopsAtFirstRungWithSurvivors(t *testing.T) {
	e := NewEngine(DefaultOptions())
	cands := []models.ContractCandidate{
		cand("A", "2.00", "2.20", 1500, 60), // moderate: 9.5% fails strict 8%
		cand("B", "2.00", "2.04", 300, 12),  // fallback only
	}

	res := e.FilterLadder(cands)
	assert.Equal(t, LadderModerate, res.Tier)
	assert.Len(t, res.Survivors, 1)
	assert.Equal(t, "A", res.Survivors[0].Symbol)
	assert.Equal(t, 0, res.Counts[LadderStrict])
}

func TestFilterLadderEmergency(t *testing.T) {
	e := NewEngine(DefaultOptions())
	res := e.FilterLadder([]models.ContractCandidate{cand("C", "0.30", "0.40", 60, 2)})
	assert.Equal(t, LadderEmergencyFallback, res.Tier)
}

func TestFilterLadderNoSurvivors(t *testing.T) {
	e := NewEngine(DefaultOptions())
	res := e.FilterLadder([]models.ContractCandidate{cand("D", "0.04", "0.08", 1_000_000, 1_000_000)})
	assert.Empty(t, res.Tier)
	assert.Empty(t, res.Survivors)
	assert.Len(t, res.Counts, 5)
}
