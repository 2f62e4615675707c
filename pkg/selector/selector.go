// Package selector picks the option contract to trade for an underlying.
// It resolves the real expiry, guards against bad upstream data, walks the
// liquidity tiers and expiry fallbacks, and finally offers a shares
// fallback when configured.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/expiry"
	"github.com/gregtusar/zerodte/pkg/liquidity"
	"github.com/gregtusar/zerodte/pkg/metrics"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDataIntegrity means the upstream returned structurally wrong data.
	// The underlying has already been put into cooldown.
	ErrDataIntegrity = errors.New("data integrity failure")
	// ErrQuoteSanity means too few near-money contracts carried a quote.
	ErrQuoteSanity = errors.New("quote sanity check failed")
)

// SharesFallbackTier is the tier name reported on shares fallbacks.
const SharesFallbackTier = "shares_fallback"

// CooldownStore persists per-underlying cooldowns.
type CooldownStore interface {
	SetCooldown(c models.Cooldown) error
	Cooldown(underlying string, now time.Time) (*models.Cooldown, error)
}

// MarketData is the upstream surface the selector reads.
type MarketData interface {
	broker.QuoteSource
	broker.ChainSource
}

// Selection is the outcome of FindContract. A nil Contract is the normal
// "nothing suitable" result; Reasons explain it.
type Selection struct {
	Contract *models.SelectedContract
	Reasons  []string
}

func (s Selection) Found() bool { return s.Contract != nil }

func (s Selection) Reason() string { return strings.Join(s.Reasons, "; ") }

type Selector struct {
	chain     MarketData
	clock     broker.Clock
	calendar  *expiry.Calendar
	filters   *liquidity.Engine
	recovery  *recovery.Manager
	cooldowns CooldownStore
	cfg       Config
	logger    *logrus.Logger
}

func New(chain MarketData, clock broker.Clock, calendar *expiry.Calendar, filters *liquidity.Engine,
	rec *recovery.Manager, cooldowns CooldownStore, cfg Config, logger *logrus.Logger) *Selector {
	return &Selector{
		chain:     chain,
		clock:     clock,
		calendar:  calendar,
		filters:   filters,
		recovery:  rec,
		cooldowns: cooldowns,
		cfg:       cfg,
		logger:    logger,
	}
}

// FindContract selects the contract to trade for underlying on the given
// side under policy. Errors are returned for upstream failures, data
// integrity failures and quote sanity failures; a liquidity miss is an
// empty Selection.
func (s *Selector) FindContract(ctx context.Context, underlying string, side models.OptionClass, policy models.ExpiryPolicy) (Selection, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	now := s.clock.Now()
	log := s.logger.WithFields(logrus.Fields{"underlying": underlying, "side": side, "policy": policy.String()})

	cd, err := s.cooldowns.Cooldown(underlying, now)
	if err != nil {
		log.WithError(err).Warn("Cooldown lookup failed")
	}
	if cd != nil {
		metrics.IncSelection(underlying, "cooldown")
		log.WithField("until", cd.Until).Info("Underlying in cooldown, skipping selection")
		return Selection{Reasons: []string{fmt.Sprintf("cooldown (%s) until %s", cd.Reason, cd.Until.Format(time.RFC3339))}}, nil
	}

	if !policy.Tradeable() {
		metrics.IncSelection(underlying, "no_expiry")
		return Selection{Reasons: []string{"no valid expiry policy"}}, nil
	}

	spot, err := recovery.Call(ctx, s.recovery, "get_spot_price", component, func(ctx context.Context) (decimal.Decimal, error) {
		return s.chain.GetSpotPrice(ctx, underlying)
	})
	if err != nil {
		return Selection{}, fmt.Errorf("failed to get spot price for %s: %w", underlying, err)
	}
	if !spot.IsPositive() {
		return Selection{}, fmt.Errorf("spot price for %s is %s: %w", underlying, spot, broker.ErrUnavailable)
	}

	target := policy.Expiry
	var contracts []models.ContractCandidate
	if policy.Name == models.PolicyZeroDTE {
		discovered, listed, err := s.discoverExpiry(ctx, underlying, side, now)
		if err != nil {
			s.countFailure(underlying, err)
			return Selection{}, err
		}
		if discovered.IsZero() {
			s.setCooldown(underlying, "no_expiries", s.cfg.NoExpiryCooldown)
			metrics.IncSelection(underlying, "no_expiry")
			return Selection{Reasons: []string{fmt.Sprintf("no listed expiry within %d days", s.cfg.DiscoveryMaxDTE)}}, nil
		}
		if !sameDay(discovered, target) {
			log.WithField("discovered", discovered.Format(models.DateLayout)).Info("Using discovered expiry instead of calendar expiry")
			target = discovered
		}
		contracts = listed
	} else {
		contracts, err = s.listContracts(ctx, underlying, target, side)
		if err != nil {
			s.countFailure(underlying, err)
			return Selection{}, err
		}
	}

	contracts = s.applyScale(log, contracts, spot)

	if len(contracts) == 0 {
		if sameDay(target, now) && !s.calendar.IsZeroDTEAvailable(underlying, now) {
			log.Debug("No same-day listing on a non-0DTE day")
		}
	} else if err := s.checkQuoteSanity(ctx, underlying, contracts, spot); err != nil {
		metrics.IncSelection(underlying, "quote_sanity")
		return Selection{}, err
	}

	var reasons []string
	if sel, why := s.evaluate(log, underlying, contracts, spot, target, now); sel != nil {
		return s.found(log, underlying, sel), nil
	} else if why != "" {
		reasons = append(reasons, why)
	}

	for _, next := range expiry.NextTradingDays(target, s.cfg.FallbackExpiries) {
		listed, err := s.listContracts(ctx, underlying, next, side)
		if err != nil {
			s.countFailure(underlying, err)
			return Selection{}, err
		}
		listed = s.applyScale(log, listed, spot)
		if len(listed) == 0 {
			reasons = append(reasons, fmt.Sprintf("%s: no contracts listed", next.Format(models.DateLayout)))
			continue
		}
		s.hydrateQuotes(ctx, listed, s.nearMoney(listed, spot))
		if sel, why := s.evaluate(log, underlying, listed, spot, next, now); sel != nil {
			sel.FallbackReason = fmt.Sprintf("expiry fallback from %s", target.Format(models.DateLayout))
			return s.found(log, underlying, sel), nil
		} else if why != "" {
			reasons = append(reasons, why)
		}
	}

	ucfg := s.cfg.underlying(underlying)
	if ucfg.AllowSharesFallback {
		sel := sharesFallback(underlying, spot, ucfg.SharesBudgetPct, strings.Join(reasons, "; "))
		log.WithField("allocation_pct", ucfg.SharesBudgetPct).Warn("No option cleared any tier, using shares fallback")
		metrics.IncSelection(underlying, "shares_fallback")
		return Selection{Contract: sel, Reasons: reasons}, nil
	}

	metrics.IncSelection(underlying, "none")
	log.WithField("reasons", strings.Join(reasons, "; ")).Info("No suitable contract")
	return Selection{Reasons: reasons}, nil
}

func (s *Selector) found(log *logrus.Entry, underlying string, sel *models.SelectedContract) Selection {
	metrics.IncSelection(underlying, "option")
	log.WithFields(logrus.Fields{
		"symbol":     sel.Symbol,
		"strike":     sel.Strike.String(),
		"expiry":     sel.Expiry.Format(models.DateLayout),
		"tier":       sel.Tier,
		"mid":        sel.Mid().StringFixed(2),
		"spread_pct": fmt.Sprintf("%.2f", sel.SpreadPct()),
	}).Info("Selected contract")
	return Selection{Contract: sel}
}

func (s *Selector) applyScale(log *logrus.Entry, contracts []models.ContractCandidate, spot decimal.Decimal) []models.ContractCandidate {
	scale := s.inferStrikeScale(contracts, spot)
	if scale != 1 {
		log.WithField("scale", scale).Warn("Applying inferred strike scale (best effort)")
	}
	return rescale(contracts, scale)
}

// evaluate walks the tier cascade for one expiry. It returns the top ranked
// survivor or a reason why nothing survived.
func (s *Selector) evaluate(log *logrus.Entry, underlying string, contracts []models.ContractCandidate, spot decimal.Decimal, exp, now time.Time) (*models.SelectedContract, string) {
	if len(contracts) == 0 {
		return nil, fmt.Sprintf("%s: no contracts", exp.Format(models.DateLayout))
	}
	contracts = s.deltaSane(contracts, spot)
	if len(contracts) == 0 {
		return nil, fmt.Sprintf("%s: all contracts failed delta sanity", exp.Format(models.DateLayout))
	}

	class := s.calendar.Class(underlying)
	dte := s.calendar.DTE(exp, now)

	if s.cfg.underlying(underlying).DynamicTiers {
		res := s.filters.FilterLadder(contracts)
		for tier, passed := range res.Counts {
			metrics.AddFilterResults(underlying, tier, passed, len(contracts)-passed)
		}
		if res.Tier == "" {
			return nil, fmt.Sprintf("%s: no contract cleared the price-band ladder", exp.Format(models.DateLayout))
		}
		return s.pick(res.Survivors, spot, res.Tier), ""
	}

	tiers := s.filters.Tiers(class)
	ladder := []models.FilterTier{tiers.Primary}
	if tiers.Fallback != nil {
		ladder = append(ladder, *tiers.Fallback)
	}
	for _, t := range ladder {
		survivors := s.runTier(log, underlying, contracts, t.Name, func(c models.ContractCandidate) (bool, string) {
			return s.filters.PassesCandidate(t, c)
		})
		if len(survivors) > 0 {
			return s.pick(survivors, spot, t.Name), ""
		}
	}

	if s.filters.ProgressiveApplies(class, dte) {
		name := tiers.Primary.Name + "_progressive"
		survivors := s.runTier(log, underlying, contracts, name, func(c models.ContractCandidate) (bool, string) {
			out := s.filters.PassesProgressive(tiers.Primary, class, dte, c.Bid, c.Ask, c.OpenInterest, c.Volume)
			return out.Pass, out.Reason
		})
		if len(survivors) > 0 {
			return s.pick(survivors, spot, name), ""
		}
	}

	return nil, fmt.Sprintf("%s: no contract cleared %s tiers (DTE=%d)", exp.Format(models.DateLayout), class, dte)
}

func (s *Selector) runTier(log *logrus.Entry, underlying string, contracts []models.ContractCandidate, tier string, passes func(models.ContractCandidate) (bool, string)) []models.ContractCandidate {
	var survivors []models.ContractCandidate
	rejections := make(map[string]int)
	for _, c := range contracts {
		ok, reason := passes(c)
		if ok {
			survivors = append(survivors, c)
			continue
		}
		code := reason
		if i := strings.IndexByte(reason, ':'); i > 0 {
			code = reason[:i]
		}
		rejections[code]++
	}
	metrics.AddFilterResults(underlying, tier, len(survivors), len(contracts)-len(survivors))
	log.WithFields(logrus.Fields{
		"tier":       tier,
		"passed":     len(survivors),
		"failed":     len(contracts) - len(survivors),
		"rejections": rejections,
	}).Info("Filter tier evaluated")
	return survivors
}

func (s *Selector) pick(survivors []models.ContractCandidate, spot decimal.Decimal, tier string) *models.SelectedContract {
	ranked := append([]models.ContractCandidate(nil), survivors...)
	rank(ranked, spot)
	return &models.SelectedContract{ContractCandidate: ranked[0], Tier: tier}
}

// sharesFallback builds the equity pseudo-contract priced at spot.
func sharesFallback(underlying string, spot decimal.Decimal, allocationPct float64, reason string) *models.SelectedContract {
	delta := 1.0
	if reason == "" {
		reason = "no option contract cleared any tier"
	}
	return &models.SelectedContract{
		ContractCandidate: models.ContractCandidate{
			Symbol:       underlying,
			Underlying:   underlying,
			Strike:       spot,
			Bid:          spot,
			Ask:          spot,
			OpenInterest: math.MaxInt64,
			Volume:       math.MaxInt64,
			Delta:        &delta,
		},
		Tier:             SharesFallbackTier,
		IsSharesFallback: true,
		FallbackReason:   reason,
		AllocationPct:    allocationPct,
	}
}

func (s *Selector) setCooldown(underlying, reason string, d time.Duration) {
	until := s.clock.Now().Add(d)
	if err := s.cooldowns.SetCooldown(models.Cooldown{Underlying: underlying, Reason: reason, Until: until}); err != nil {
		s.logger.WithError(err).WithField("underlying", underlying).Error("Failed to persist cooldown")
		return
	}
	metrics.IncCooldown(reason)
	s.logger.WithFields(logrus.Fields{"underlying": underlying, "reason": reason, "until": until}).Warn("Underlying placed in cooldown")
}

func (s *Selector) countFailure(underlying string, err error) {
	if errors.Is(err, ErrDataIntegrity) {
		metrics.IncSelection(underlying, "data_integrity")
		return
	}
	metrics.IncSelection(underlying, "error")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
