// Package broker declares the upstream collaborators the trading core talks
// to. Concrete adapters normalize their wire formats into pkg/models types
// before anything crosses these interfaces.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrOrderRejected is returned when the venue explicitly rejects an
	// order, as opposed to a transport or server failure.
	ErrOrderRejected = errors.New("order rejected")
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("unavailable")
)

type QuoteSource interface {
	GetSpotPrice(ctx context.Context, underlying string) (decimal.Decimal, error)
}

type ChainSource interface {
	// ListContracts returns the contracts listed for an underlying and
	// expiry. Upstream filtering by underlying is advisory; callers must
	// re-check Underlying on every record.
	ListContracts(ctx context.Context, underlying string, expiry time.Time, class models.OptionClass) ([]models.ContractCandidate, error)
	GetLatestQuote(ctx context.Context, contractSymbol string) (models.Quote, error)
}

type Clock interface {
	IsMarketOpen(ctx context.Context) (bool, error)
	// Now returns the current time in the exchange's location.
	Now() time.Time
}

type OrderGateway interface {
	SubmitMarketOrder(ctx context.Context, req models.OrderRequest) (string, error)
	SubmitLimitOrder(ctx context.Context, req models.OrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// GetOrderByClientID returns ErrNotFound when no order carries the id.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Escalator receives notifications when automatic recovery gives up.
type Escalator interface {
	Notify(ctx context.Context, component, operation string, cause error) error
}

// Broker is the full surface implemented by brokerage adapters.
type Broker interface {
	QuoteSource
	ChainSource
	Clock
	OrderGateway
}
