package selector

import (
	"testing"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/stretchr/testify/assert"
)

func strikes(vals ...string) []models.ContractCandidate {
	out := make([]models.ContractCandidate, len(vals))
	for i, v := range vals {
		out[i] = models.ContractCandidate{Strike: dec(v)}
	}
	return out
}

func TestInferStrikeScale(t *testing.T) {
	s := &Selector{cfg: DefaultConfig()}

	assert.Equal(t, 1.0, s.inferStrikeScale(strikes("445", "450", "455"), dec("450")))
	assert.Equal(t, 2.0, s.inferStrikeScale(strikes("220", "225", "230"), dec("450")))
	assert.Equal(t, 0.25, s.inferStrikeScale(strikes("1800", "1805"), dec("450")))
	assert.Equal(t, 1.0, s.inferStrikeScale(nil, dec("450")))
}

func TestInferStrikeScaleNeedsMaterialGain(t *testing.T) {
	s := &Selector{cfg: DefaultConfig()}
	// A chain skewed slightly below spot is left alone.
	assert.Equal(t, 1.0, s.inferStrikeScale(strikes("430", "440"), dec("450")))
}

func TestDeltaSanity(t *testing.T) {
	s := &Selector{cfg: DefaultConfig()}
	far, atm, ok := 0.2, 0.2, 0.5
	cs := []models.ContractCandidate{
		{Symbol: "far", Strike: dec("470"), Delta: &far},
		{Symbol: "atm", Strike: dec("451"), Delta: &atm},
		{Symbol: "ok", Strike: dec("470"), Delta: &ok},
		{Symbol: "none", Strike: dec("470")},
	}

	got := s.deltaSane(cs, dec("450"))
	var names []string
	for _, c := range got {
		names = append(names, c.Symbol)
	}
	assert.Equal(t, []string{"atm", "ok", "none"}, names)
}

func TestRank(t *testing.T) {
	cs := []models.ContractCandidate{
		{Symbol: "wide", Strike: dec("451"), Bid: dec("2.00"), Ask: dec("2.20"), Volume: 10},
		{Symbol: "far", Strike: dec("455"), Bid: dec("2.00"), Ask: dec("2.01"), Volume: 10},
		{Symbol: "tight-low", Strike: dec("449"), Bid: dec("2.00"), Ask: dec("2.05"), Volume: 10},
		{Symbol: "tight-high", Strike: dec("449"), Bid: dec("2.00"), Ask: dec("2.05"), Volume: 500},
	}
	rank(cs, dec("450"))
	assert.Equal(t, "tight-high", cs[0].Symbol)
	assert.Equal(t, "tight-low", cs[1].Symbol)
	assert.Equal(t, "wide", cs[2].Symbol)
	assert.Equal(t, "far", cs[3].Symbol)
}
