package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const component = "selector"

// hardFilter keeps only contracts whose underlying matches the request.
// Upstream filtering by underlying is advisory.
func hardFilter(raw []models.ContractCandidate, underlying string) []models.ContractCandidate {
	out := make([]models.ContractCandidate, 0, len(raw))
	for _, c := range raw {
		if strings.EqualFold(c.Underlying, underlying) {
			out = append(out, c)
		}
	}
	return out
}

// listContracts fetches one expiry's listing and hard-filters it. A listing
// that only contained foreign contracts puts the underlying into cooldown
// and returns ErrDataIntegrity.
func (s *Selector) listContracts(ctx context.Context, underlying string, expiry time.Time, side models.OptionClass) ([]models.ContractCandidate, error) {
	raw, err := recovery.Call(ctx, s.recovery, "list_contracts", component, func(ctx context.Context) ([]models.ContractCandidate, error) {
		return s.chain.ListContracts(ctx, underlying, expiry, side)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s contracts for %s: %w", underlying, expiry.Format(models.DateLayout), err)
	}

	filtered := hardFilter(raw, underlying)
	if len(raw) > 0 && len(filtered) == 0 {
		s.logger.WithFields(logrus.Fields{
			"underlying": underlying,
			"expiry":     expiry.Format(models.DateLayout),
			"returned":   len(raw),
			"sample":     raw[0].Symbol,
		}).Error("Upstream returned contracts for a different underlying")
		s.setCooldown(underlying, "data_integrity", s.cfg.DataIntegrityCooldown)
		return nil, fmt.Errorf("%w: %d contracts for %s expiry %s matched another underlying",
			ErrDataIntegrity, len(raw), underlying, expiry.Format(models.DateLayout))
	}
	if dropped := len(raw) - len(filtered); dropped > 0 {
		s.logger.WithField("underlying", underlying).WithField("dropped", dropped).Warn("Dropped foreign contracts from listing")
	}
	return filtered, nil
}

// discoverExpiry probes expiries from today up to the discovery ceiling and
// returns the first with real listings.
func (s *Selector) discoverExpiry(ctx context.Context, underlying string, side models.OptionClass, now time.Time) (time.Time, []models.ContractCandidate, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for dte := 0; dte <= s.cfg.DiscoveryMaxDTE; dte++ {
		day := today.AddDate(0, 0, dte)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		contracts, err := s.listContracts(ctx, underlying, day, side)
		if err != nil {
			return time.Time{}, nil, err
		}
		if len(contracts) > 0 {
			return day, contracts, nil
		}
	}
	return time.Time{}, nil, nil
}

// nearMoney returns the indexes of contracts within NearMoneyPct of spot,
// or of the nearest strikes when none are that close.
func (s *Selector) nearMoney(contracts []models.ContractCandidate, spot decimal.Decimal) []int {
	limit := spot.Mul(decimal.NewFromFloat(s.cfg.NearMoneyPct))
	var idx []int
	for i, c := range contracts {
		if c.Strike.Sub(spot).Abs().LessThanOrEqual(limit) {
			idx = append(idx, i)
		}
	}
	if len(idx) > 0 {
		return idx
	}

	idx = make([]int, len(contracts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da := contracts[idx[a]].Strike.Sub(spot).Abs()
		db := contracts[idx[b]].Strike.Sub(spot).Abs()
		return da.LessThan(db)
	})
	if len(idx) > s.cfg.NearestStrikes {
		idx = idx[:s.cfg.NearestStrikes]
	}
	return idx
}

// hydrateQuotes fetches latest quotes for the given contracts that lack a
// usable ask. Contracts are replaced by quoted copies; fetch failures leave
// the contract unquoted.
func (s *Selector) hydrateQuotes(ctx context.Context, contracts []models.ContractCandidate, idx []int) {
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.QuoteConcurrency > 0 {
		g.SetLimit(s.cfg.QuoteConcurrency)
	}
	for _, i := range idx {
		if contracts[i].HasQuote() {
			continue
		}
		i := i
		symbol := contracts[i].Symbol
		g.Go(func() error {
			q, err := recovery.Call(gctx, s.recovery, "get_latest_quote", component, func(ctx context.Context) (models.Quote, error) {
				q, err := s.chain.GetLatestQuote(ctx, symbol)
				if errors.Is(err, broker.ErrNotFound) {
					return q, recovery.Permanent(err)
				}
				return q, err
			})
			if err != nil {
				s.logger.WithError(err).WithField("symbol", symbol).Debug("Quote unavailable")
				return nil
			}
			// Each goroutine owns a distinct index.
			contracts[i] = contracts[i].WithQuote(q)
			return nil
		})
	}
	_ = g.Wait()
}

// checkQuoteSanity hydrates the near-money sample and requires a minimum
// share of it to carry a usable quote.
func (s *Selector) checkQuoteSanity(ctx context.Context, underlying string, contracts []models.ContractCandidate, spot decimal.Decimal) error {
	idx := s.nearMoney(contracts, spot)
	if len(idx) == 0 {
		return nil
	}
	s.hydrateQuotes(ctx, contracts, idx)

	usable := 0
	for _, i := range idx {
		if contracts[i].HasQuote() {
			usable++
		}
	}
	coverage := float64(usable) / float64(len(idx))
	fields := logrus.Fields{
		"underlying": underlying,
		"sampled":    len(idx),
		"usable":     usable,
		"coverage":   fmt.Sprintf("%.0f%%", coverage*100),
	}
	if coverage < s.cfg.MinQuoteCoverage {
		s.logger.WithFields(fields).Warn("Quote sanity check failed")
		return fmt.Errorf("%w: %d/%d near-money contracts quoted for %s", ErrQuoteSanity, usable, len(idx), underlying)
	}
	s.logger.WithFields(fields).Debug("Quote sanity check passed")
	return nil
}
