package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OptionClass string

const (
	OptionCall OptionClass = "CALL"
	OptionPut  OptionClass = "PUT"
)

// ParseOptionClass accepts call/put in any case.
func ParseOptionClass(s string) (OptionClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return OptionCall, nil
	case "PUT", "P":
		return OptionPut, nil
	}
	return "", fmt.Errorf("unknown option class %q", s)
}

var two = decimal.NewFromInt(2)

// ContractCandidate is one option contract under evaluation. Candidates are
// built fresh per selection attempt and never mutated afterwards; helpers
// that adjust a candidate return a copy.
type ContractCandidate struct {
	Symbol       string
	Underlying   string
	Strike       decimal.Decimal
	Expiry       time.Time
	Class        OptionClass
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	OpenInterest int64
	Volume       int64
	Delta        *float64
}

// HasQuote reports whether the candidate has a usable ask.
func (c ContractCandidate) HasQuote() bool {
	return c.Ask.IsPositive()
}

// Mid is (bid+ask)/2 when both sides are quoted, ask/2 when only the ask is.
func (c ContractCandidate) Mid() decimal.Decimal {
	if c.Bid.IsPositive() && c.Ask.IsPositive() {
		return c.Bid.Add(c.Ask).Div(two)
	}
	if c.Ask.IsPositive() {
		return c.Ask.Div(two)
	}
	return decimal.Zero
}

func (c ContractCandidate) Spread() decimal.Decimal {
	return c.Ask.Sub(c.Bid)
}

// SpreadPct is the absolute spread as a percentage of mid.
func (c ContractCandidate) SpreadPct() float64 {
	mid := c.Mid()
	if !mid.IsPositive() {
		return 1000
	}
	return c.Spread().Div(mid).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// WithQuote returns a copy carrying the given bid/ask.
func (c ContractCandidate) WithQuote(q Quote) ContractCandidate {
	c.Bid = q.Bid
	c.Ask = q.Ask
	return c
}

// WithStrike returns a copy carrying a rescaled strike.
func (c ContractCandidate) WithStrike(strike decimal.Decimal) ContractCandidate {
	c.Strike = strike
	return c
}

// SelectedContract is the candidate chosen as tradeable. A shares fallback
// is a pseudo-contract for a plain equity position; it is never an option.
type SelectedContract struct {
	ContractCandidate
	Tier             string
	IsSharesFallback bool
	FallbackReason   string
	// AllocationPct is the budget share used instead of a contract quantity
	// for shares fallbacks.
	AllocationPct float64
}

func (s SelectedContract) IsOption() bool {
	return !s.IsSharesFallback
}

type PolicyName string

const (
	PolicyZeroDTE  PolicyName = "ZERO_DTE"
	PolicyShortDTE PolicyName = "SHORT_DTE"
	PolicyWeekly   PolicyName = "WEEKLY"
	PolicyNone     PolicyName = "NONE"
)

// ExpiryPolicy is resolved fresh from the calendar each time. Expiry is the
// zero time when Name is PolicyNone.
type ExpiryPolicy struct {
	Name   PolicyName
	Expiry time.Time
}

func (p ExpiryPolicy) Tradeable() bool {
	return p.Name != PolicyNone && !p.Expiry.IsZero()
}

func (p ExpiryPolicy) String() string {
	if !p.Tradeable() {
		return string(PolicyNone)
	}
	return fmt.Sprintf("%s(%s)", p.Name, p.Expiry.Format(DateLayout))
}

// DateLayout is the calendar-date wire format used for expiries.
const DateLayout = "2006-01-02"

// FilterTier is a named liquidity-threshold profile.
type FilterTier struct {
	Name            string
	MinOpenInterest int64
	MinVolume       int64
	MaxSpreadAbs    decimal.Decimal
	MaxSpreadPct    float64
	HasFallback     bool
}
