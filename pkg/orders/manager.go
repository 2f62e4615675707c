// Package orders places orders and follows them to a terminal fill state.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/metrics"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const component = "orders"

// ErrLimitFallbackRejected is returned when both the market order and its
// limit fallback were rejected.
var ErrLimitFallbackRejected = errors.New("limit fallback rejected")

type Config struct {
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TimeInForce  string        `mapstructure:"time_in_force"`
	// Limit fallback price is max(mid, mid+LimitOffset, mid*LimitMarkup).
	LimitOffset float64 `mapstructure:"limit_offset"`
	LimitMarkup float64 `mapstructure:"limit_markup"`
}

func DefaultConfig() Config {
	return Config{
		PollTimeout:  90 * time.Second,
		PollInterval: 2 * time.Second,
		TimeInForce:  "day",
		LimitOffset:  0.05,
		LimitMarkup:  1.05,
	}
}

type QuoteSource interface {
	GetLatestQuote(ctx context.Context, symbol string) (models.Quote, error)
}

type Manager struct {
	gateway  broker.OrderGateway
	quotes   QuoteSource
	recovery *recovery.Manager
	cfg      Config
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

type Option func(*Manager)

// WithSleep replaces the poll wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

func NewManager(gateway broker.OrderGateway, quotes QuoteSource, rec *recovery.Manager, cfg Config, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		gateway:  gateway,
		quotes:   quotes,
		recovery: rec,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// submit sends one order through recovery. Venue rejections are not
// retried. Once an attempt fails without a rejection its outcome is unknown,
// so every later attempt first looks the client order id up and adopts an
// order that already landed instead of sending another.
func (m *Manager) submit(ctx context.Context, req models.OrderRequest) (string, error) {
	send := m.gateway.SubmitMarketOrder
	if req.Type == models.OrderTypeLimit {
		send = m.gateway.SubmitLimitOrder
	}
	uncertain := false
	return recovery.Call(ctx, m.recovery, "submit_"+string(req.Type)+"_order", component, func(ctx context.Context) (string, error) {
		if uncertain {
			o, err := m.gateway.GetOrderByClientID(ctx, req.ClientOrderID)
			switch {
			case err == nil:
				m.logger.WithFields(logrus.Fields{
					"client_order_id": req.ClientOrderID,
					"order_id":        o.OrderID,
				}).Warn("Earlier submission was accepted, not resending")
				return o.OrderID, nil
			case !errors.Is(err, broker.ErrNotFound):
				return "", err
			}
		}
		id, err := send(ctx, req)
		if errors.Is(err, broker.ErrOrderRejected) {
			return "", recovery.Permanent(err)
		}
		if err != nil {
			uncertain = true
		}
		return id, err
	}, recovery.WithFailureType("order_submission"))
}

// PlaceMarketOrder submits a market order. If the venue rejects it, one
// limit order is tried at an aggressive price derived from the current mid.
// A generated client order id is used when clientOrderID is empty.
func (m *Manager) PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side models.OrderSide, clientOrderID string) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("invalid quantity %d for %s", qty, symbol)
	}
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	req := models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          models.OrderTypeMarket,
		Qty:           qty,
		TimeInForce:   m.cfg.TimeInForce,
		ClientOrderID: clientOrderID,
	}
	log := m.logger.WithFields(logrus.Fields{
		"symbol":          symbol,
		"side":            side,
		"qty":             qty,
		"client_order_id": clientOrderID,
	})

	id, err := m.submit(ctx, req)
	if err == nil {
		metrics.IncOrder(string(models.OrderTypeMarket), "accepted")
		log.WithField("order_id", id).Info("Market order submitted")
		return id, nil
	}
	if !errors.Is(err, broker.ErrOrderRejected) {
		metrics.IncOrder(string(models.OrderTypeMarket), "error")
		return "", fmt.Errorf("failed to submit market order for %s: %w", symbol, err)
	}

	metrics.IncOrder(string(models.OrderTypeMarket), "rejected")
	log.WithError(err).Warn("Market order rejected, trying limit fallback")
	return m.limitFallback(ctx, req, err, log)
}

func (m *Manager) limitFallback(ctx context.Context, req models.OrderRequest, cause error, log *logrus.Entry) (string, error) {
	q, err := recovery.Call(ctx, m.recovery, "get_latest_quote", component, func(ctx context.Context) (models.Quote, error) {
		return m.quotes.GetLatestQuote(ctx, req.Symbol)
	})
	if err != nil {
		return "", fmt.Errorf("market order rejected (%v), no quote for limit fallback: %w", cause, err)
	}
	if !q.Usable() {
		return "", fmt.Errorf("market order rejected, no usable quote for %s: %w", req.Symbol, cause)
	}

	req.Type = models.OrderTypeLimit
	req.LimitPrice = AggressiveLimitPrice(q.Mid(), m.cfg.LimitOffset, m.cfg.LimitMarkup)
	req.ClientOrderID += "-lmt"
	log = log.WithField("limit_price", req.LimitPrice.String())

	id, err := m.submit(ctx, req)
	switch {
	case err == nil:
		metrics.IncOrder(string(models.OrderTypeLimit), "accepted")
		log.WithField("order_id", id).Info("Limit fallback order submitted")
		return id, nil
	case errors.Is(err, broker.ErrOrderRejected):
		metrics.IncOrder(string(models.OrderTypeLimit), "rejected")
		log.WithError(err).Error("Limit fallback rejected")
		return "", fmt.Errorf("%w: %w", ErrLimitFallbackRejected, err)
	default:
		metrics.IncOrder(string(models.OrderTypeLimit), "error")
		return "", fmt.Errorf("failed to submit limit fallback for %s: %w", req.Symbol, err)
	}
}

// AggressiveLimitPrice is max(mid, mid+offset, mid*markup) rounded up to the
// cent.
func AggressiveLimitPrice(mid decimal.Decimal, offset, markup float64) decimal.Decimal {
	return decimal.Max(mid, mid.Add(decimal.NewFromFloat(offset)), mid.Mul(decimal.NewFromFloat(markup))).RoundCeil(2)
}

// ClosePosition sells qty of symbol through the market/limit path.
func (m *Manager) ClosePosition(ctx context.Context, symbol string, qty int64) (string, error) {
	return m.PlaceMarketOrder(ctx, symbol, qty, models.OrderSideSell, "")
}

// CancelOrder is best effort and never retried: the order may fill
// concurrently upstream.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	if err := m.gateway.CancelOrder(ctx, orderID); err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Warn("Cancel failed")
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	m.logger.WithField("order_id", orderID).Info("Order canceled")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
