package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusTimeout         OrderStatus = "TIMEOUT"
	// OrderStatusReplaced ends this order id; a successor order may still be
	// working and needs reconciliation.
	OrderStatusReplaced        OrderStatus = "REPLACED"
)

// Terminal reports whether polling should stop on this status. TIMEOUT is
// produced locally and is terminal as well.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusTimeout, OrderStatusReplaced:
		return true
	}
	return false
}

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Qty           int64
	LimitPrice    decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// Order is the upstream view of a submitted order.
type Order struct {
	OrderID        string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Qty            int64
	FilledQty      int64
	FilledAvgPrice decimal.Decimal
	Status         OrderStatus
	ReplacedBy     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FillResult is the outcome of polling an order. A TIMEOUT result carries
// whatever partial fill had accumulated and needs manual reconciliation.
type FillResult struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	RequestedQty  int64
	FilledQty     int64
	AvgPrice      decimal.Decimal
	RemainingQty  int64
	ReplacedBy    string
}
