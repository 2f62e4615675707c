package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnderlyingClass groups underlyings that share liquidity thresholds.
type UnderlyingClass string

const (
	ClassLiquid     UnderlyingClass = "liquid"
	ClassStandard   UnderlyingClass = "standard"
	ClassSector     UnderlyingClass = "sector"
	ClassVolatility UnderlyingClass = "volatility"
	ClassUnknown    UnderlyingClass = "unknown"
)

// IsETFLike reports whether the class is one of the exchange-traded fund
// categories eligible for progressive relaxation.
func (c UnderlyingClass) IsETFLike() bool {
	switch c {
	case ClassLiquid, ClassStandard, ClassSector, ClassVolatility:
		return true
	}
	return false
}

type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Usable reports whether the quote carries a valid ask. A missing bid is
// tolerated; it is estimated downstream.
func (q Quote) Usable() bool {
	return q.Ask.IsPositive()
}

// Mid follows the candidate convention: ask/2 when the bid is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(two)
	}
	if q.Ask.IsPositive() {
		return q.Ask.Div(two)
	}
	return decimal.Zero
}

type MarketClock struct {
	IsOpen    bool
	Timestamp time.Time
	NextOpen  time.Time
	NextClose time.Time
}
