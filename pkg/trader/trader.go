// Package trader runs the per-underlying decision pipeline: market gate,
// expiry policy, contract selection, order placement and fill polling.
package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/expiry"
	"github.com/gregtusar/zerodte/pkg/metrics"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/gregtusar/zerodte/pkg/selector"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type ContractFinder interface {
	FindContract(ctx context.Context, underlying string, side models.OptionClass, policy models.ExpiryPolicy) (selector.Selection, error)
}

type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side models.OrderSide, clientOrderID string) (string, error)
	PollFill(ctx context.Context, orderID string, timeout, interval time.Duration) (models.FillResult, error)
}

type TradeStore interface {
	SaveTrade(r models.TradeRecord) error
}

type Config struct {
	DryRun      bool
	Concurrency int
}

const component = "trader"

type Trader struct {
	clock    broker.Clock
	recovery *recovery.Manager
	calendar *expiry.Calendar
	selector ContractFinder
	orders   OrderPlacer
	trades   TradeStore
	cfg      Config
	logger   *logrus.Logger
}

// New builds a trader. trades may be nil, in which case records are only
// logged.
func New(clock broker.Clock, rec *recovery.Manager, calendar *expiry.Calendar, finder ContractFinder, placer OrderPlacer,
	trades TradeStore, cfg Config, logger *logrus.Logger) *Trader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Trader{
		clock:    clock,
		recovery: rec,
		calendar: calendar,
		selector: finder,
		orders:   placer,
		trades:   trades,
		cfg:      cfg,
		logger:   logger,
	}
}

// Gate reports whether new entries are allowed right now.
func (t *Trader) Gate(ctx context.Context) (bool, string, error) {
	open, err := recovery.Call(ctx, t.recovery, "is_market_open", component, t.clock.IsMarketOpen)
	if err != nil {
		return false, "", fmt.Errorf("failed to read market clock: %w", err)
	}
	if !open {
		return false, "market closed", nil
	}
	if t.calendar.PastEntryCutoff(t.clock.Now()) {
		return false, "past 15:15 entry cutoff", nil
	}
	return true, "", nil
}

// Run takes one underlying through the pipeline. The returned record is
// always populated, even when err is non-nil.
func (t *Trader) Run(ctx context.Context, underlying string, side models.OptionClass, qty int64) (models.TradeRecord, error) {
	underlying = strings.ToUpper(underlying)
	rec := models.TradeRecord{
		ID:         uuid.NewString(),
		Underlying: underlying,
		Side:       side,
		Qty:        qty,
		CreatedAt:  t.clock.Now(),
	}
	log := t.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"side":       side,
		"trade_id":   rec.ID,
	})

	err := t.run(ctx, &rec, log)
	rec.FinishedAt = t.clock.Now()

	switch {
	case err != nil:
		rec.Reason = err.Error()
		metrics.IncDecision(underlying, "error")
		log.WithError(err).Error("Trade pipeline failed")
	case rec.Skipped:
		outcome := "skipped"
		if t.cfg.DryRun && rec.Contract != nil {
			outcome = "dry_run"
		}
		metrics.IncDecision(underlying, outcome)
		log.WithField("reason", rec.Reason).Info("Trade skipped")
	default:
		metrics.IncDecision(underlying, "ordered")
	}

	if t.trades != nil {
		if serr := t.trades.SaveTrade(rec); serr != nil {
			log.WithError(serr).Warn("Failed to persist trade record")
		}
	}
	return rec, err
}

func (t *Trader) run(ctx context.Context, rec *models.TradeRecord, log *logrus.Entry) error {
	ok, reason, err := t.Gate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return skip(rec, reason)
	}

	now := t.clock.Now()
	policy := t.calendar.ResolvePolicy(rec.Underlying, now)
	rec.Policy = policy
	if !policy.Tradeable() {
		return skip(rec, "no tradeable expiry today")
	}
	if valid, why := t.calendar.ValidateExpiry(rec.Underlying, policy.Expiry, now); !valid {
		return skip(rec, why)
	}
	log = log.WithField("policy", policy.String())

	sel, err := t.selector.FindContract(ctx, rec.Underlying, rec.Side, policy)
	if err != nil {
		return fmt.Errorf("contract selection failed: %w", err)
	}
	if !sel.Found() {
		return skip(rec, sel.Reason())
	}
	rec.Contract = sel.Contract
	log = log.WithFields(logrus.Fields{
		"symbol": sel.Contract.Symbol,
		"tier":   sel.Contract.Tier,
	})

	if sel.Contract.IsSharesFallback {
		return skip(rec, fmt.Sprintf("shares fallback selected at %.0f%% allocation; size manually", sel.Contract.AllocationPct))
	}
	if t.cfg.DryRun {
		return skip(rec, "dry run")
	}

	orderID, err := t.orders.PlaceMarketOrder(ctx, sel.Contract.Symbol, rec.Qty, models.OrderSideBuy, rec.ID)
	if err != nil {
		return fmt.Errorf("order placement failed: %w", err)
	}
	rec.OrderID = orderID
	log.WithField("order_id", orderID).Info("Order submitted")

	fill, err := t.orders.PollFill(ctx, orderID, 0, 0)
	rec.Fill = &fill
	if err != nil {
		return fmt.Errorf("fill polling failed: %w", err)
	}
	if fill.Status == models.OrderStatusTimeout {
		log.WithFields(logrus.Fields{
			"filled":    fill.FilledQty,
			"remaining": fill.RemainingQty,
		}).Warn("Fill polling timed out; reconcile manually")
	}
	return nil
}

func skip(rec *models.TradeRecord, reason string) error {
	rec.Skipped = true
	rec.Reason = reason
	return nil
}

// RunBatch runs the pipeline for each underlying concurrently, bounded by
// Config.Concurrency. Per-underlying failures are recorded, not returned;
// records keep the input order.
func (t *Trader) RunBatch(ctx context.Context, underlyings []string, side models.OptionClass, qty int64) []models.TradeRecord {
	records := make([]models.TradeRecord, len(underlyings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, u := range underlyings {
		g.Go(func() error {
			records[i], _ = t.Run(gctx, u, side, qty)
			return nil
		})
	}
	_ = g.Wait()
	return records
}
