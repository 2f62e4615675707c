package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/gregtusar/zerodte/pkg/metrics"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/sirupsen/logrus"
)

// PollFill re-reads the order every interval until it reaches a terminal
// status or timeout elapses. Zero durations use the configured defaults.
//
// A TIMEOUT result carries any partial fill and means the position needs
// reconciliation. Canceling ctx abandons the poll without touching the
// order; the last observed state is returned as TIMEOUT with ctx's error.
func (m *Manager) PollFill(ctx context.Context, orderID string, timeout, interval time.Duration) (models.FillResult, error) {
	if timeout <= 0 {
		timeout = m.cfg.PollTimeout
	}
	if interval <= 0 {
		interval = m.cfg.PollInterval
	}
	log := m.logger.WithField("order_id", orderID)
	deadline := m.now().Add(timeout)

	var last *models.Order
	for {
		o, err := recovery.Call(ctx, m.recovery, "get_order", component, func(ctx context.Context) (*models.Order, error) {
			return m.gateway.GetOrder(ctx, orderID)
		})
		if err != nil {
			res := fillResult(orderID, last, models.OrderStatusTimeout)
			return res, fmt.Errorf("failed to poll order %s: %w", orderID, err)
		}
		last = o

		if o.Status.Terminal() {
			res := fillResult(orderID, o, o.Status)
			metrics.IncFill(string(res.Status))
			if res.Status == models.OrderStatusReplaced {
				log.WithFields(logrus.Fields{
					"replaced_by": res.ReplacedBy,
					"filled_qty":  res.FilledQty,
				}).Warn("Order was replaced upstream, successor needs reconciliation")
				return res, nil
			}
			log.WithFields(logrus.Fields{
				"status":     res.Status,
				"filled_qty": res.FilledQty,
				"avg_price":  res.AvgPrice.String(),
			}).Info("Order reached terminal state")
			return res, nil
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			break
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := m.sleep(ctx, wait); err != nil {
			return fillResult(orderID, last, models.OrderStatusTimeout), err
		}
	}

	res := fillResult(orderID, last, models.OrderStatusTimeout)
	metrics.IncFill(string(res.Status))
	log.WithFields(logrus.Fields{
		"filled_qty":    res.FilledQty,
		"remaining_qty": res.RemainingQty,
		"last_status":   last.Status,
	}).Warn("Fill poll timed out, order needs reconciliation")
	return res, nil
}

func fillResult(orderID string, o *models.Order, status models.OrderStatus) models.FillResult {
	res := models.FillResult{OrderID: orderID, Status: status}
	if o == nil {
		return res
	}
	res.ClientOrderID = o.ClientOrderID
	res.RequestedQty = o.Qty
	res.FilledQty = o.FilledQty
	res.AvgPrice = o.FilledAvgPrice
	res.ReplacedBy = o.ReplacedBy
	if rem := o.Qty - o.FilledQty; rem > 0 {
		res.RemainingQty = rem
	}
	return res
}
