package alpaca

import (
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

type clockDTO struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type contractDTO struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Status           string          `json:"status"`
	Tradable         bool            `json:"tradable"`
	ExpirationDate   string          `json:"expiration_date"`
	RootSymbol       *string         `json:"root_symbol,omitempty"`
	UnderlyingSymbol string          `json:"underlying_symbol"`
	Type             string          `json:"type"`
	StrikePrice      decimal.Decimal `json:"strike_price"`
	OpenInterest     *string         `json:"open_interest"`
}

type contractsResponse struct {
	OptionContracts []contractDTO `json:"option_contracts"`
	NextPageToken   *string       `json:"next_page_token,omitempty"`
}

type quoteDTO struct {
	Timestamp time.Time       `json:"t"`
	BidPrice  decimal.Decimal `json:"bp"`
	AskPrice  decimal.Decimal `json:"ap"`
}

type barDTO struct {
	Volume int64 `json:"v"`
}

type greeksDTO struct {
	Delta *float64 `json:"delta"`
}

type snapshotDTO struct {
	LatestQuote *quoteDTO  `json:"latestQuote"`
	DailyBar    *barDTO    `json:"dailyBar"`
	Greeks      *greeksDTO `json:"greeks"`
}

type snapshotsResponse struct {
	Snapshots     map[string]snapshotDTO `json:"snapshots"`
	NextPageToken *string                `json:"next_page_token,omitempty"`
}

type latestQuotesResponse struct {
	Quotes map[string]quoteDTO `json:"quotes"`
}

type stockQuoteResponse struct {
	Symbol string   `json:"symbol"`
	Quote  quoteDTO `json:"quote"`
}

type stockTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price decimal.Decimal `json:"p"`
	} `json:"trade"`
}

type orderRequestDTO struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderDTO struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Qty            string           `json:"qty"`
	FilledQty      string           `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	Status         string           `json:"status"`
	ReplacedBy     string           `json:"replaced_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type errorDTO struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c contractDTO) toCandidate(loc *time.Location) models.ContractCandidate {
	cand := models.ContractCandidate{
		Symbol:     c.Symbol,
		Underlying: c.UnderlyingSymbol,
		Strike:     c.StrikePrice,
		Class:      models.OptionCall,
	}
	if strings.EqualFold(c.Type, "put") {
		cand.Class = models.OptionPut
	}
	if exp, err := time.ParseInLocation(models.DateLayout, c.ExpirationDate, loc); err == nil {
		cand.Expiry = exp
	}
	if c.OpenInterest != nil {
		if oi, err := strconv.ParseInt(*c.OpenInterest, 10, 64); err == nil && oi > 0 {
			cand.OpenInterest = oi
		}
	}
	return cand
}

func (s snapshotDTO) apply(c models.ContractCandidate) models.ContractCandidate {
	if s.LatestQuote != nil {
		c = c.WithQuote(s.LatestQuote.toQuote(c.Symbol))
	}
	if s.DailyBar != nil && s.DailyBar.Volume > 0 {
		c.Volume = s.DailyBar.Volume
	}
	if s.Greeks != nil && s.Greeks.Delta != nil {
		d := *s.Greeks.Delta
		c.Delta = &d
	}
	return c
}

func (q quoteDTO) toQuote(symbol string) models.Quote {
	return models.Quote{Symbol: symbol, Bid: q.BidPrice, Ask: q.AskPrice, Timestamp: q.Timestamp}
}

func parseQty(s string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart()
}

func orderStatus(s string) models.OrderStatus {
	switch s {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "canceled", "expired", "done_for_day":
		return models.OrderStatusCanceled
	case "replaced":
		return models.OrderStatusReplaced
	case "rejected":
		return models.OrderStatusRejected
	}
	return models.OrderStatusNew
}

func (o orderDTO) toOrder() *models.Order {
	out := &models.Order{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.OrderSide(o.Side),
		Type:          models.OrderType(o.Type),
		Qty:           parseQty(o.Qty),
		FilledQty:     parseQty(o.FilledQty),
		Status:        orderStatus(o.Status),
		ReplacedBy:    o.ReplacedBy,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = *o.FilledAvgPrice
	}
	return out
}

// IsOptionSymbol reports whether s looks like an OCC option symbol
// (root, YYMMDD, C/P, eight-digit strike).
func IsOptionSymbol(s string) bool {
	n := len(s)
	if n < 16 {
		return false
	}
	if cp := s[n-9]; cp != 'C' && cp != 'P' {
		return false
	}
	for i := n - 15; i < n; i++ {
		if i == n-9 {
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
