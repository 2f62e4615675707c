package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gregtusar/zerodte/internal/config"
	"github.com/gregtusar/zerodte/pkg/alert"
	"github.com/gregtusar/zerodte/pkg/alpaca"
	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/expiry"
	"github.com/gregtusar/zerodte/pkg/liquidity"
	"github.com/gregtusar/zerodte/pkg/logging"
	"github.com/gregtusar/zerodte/pkg/orders"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/gregtusar/zerodte/pkg/selector"
	"github.com/gregtusar/zerodte/pkg/store"
	"github.com/gregtusar/zerodte/pkg/trader"
	"github.com/sirupsen/logrus"
)

// app is the composition root. Components are built on first use so that
// read-only commands never need brokerage credentials.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	closers []io.Closer

	recoveryOnce sync.Once
	recovery     *recovery.Manager
	recoveryErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error

	brokerOnce sync.Once
	broker     *alpaca.Client
	brokerErr  error
}

func newApp(cfgFile string, stdout io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, logCloser, err := logging.New(cfg.Logging, stdout)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recovery returns the process-wide recovery manager, creating it on first
// call with the history found in the attempt log.
func (a *app) Recovery() (*recovery.Manager, error) {
	a.recoveryOnce.Do(func() {
		history, err := recovery.ReadLogFile(a.cfg.Recovery.Log.Path)
		if err != nil {
			a.logger.WithError(err).Warn("Failed to read recovery history, starting empty")
		}
		attemptLog, err := recovery.NewFileLog(a.cfg.Recovery.Log)
		if err != nil {
			a.recoveryErr = fmt.Errorf("failed to open recovery log: %w", err)
			return
		}
		a.closers = append(a.closers, attemptLog)

		a.recovery = recovery.NewManager(a.logger,
			recovery.WithBackoff(a.cfg.Recovery.Backoff),
			recovery.WithAttemptLog(attemptLog),
			recovery.WithEscalator(a.escalator()),
			recovery.WithHistory(history),
		)
	})
	return a.recovery, a.recoveryErr
}

func (a *app) escalator() broker.Escalator {
	sinks := alert.Multi{alert.NewLogSink(a.logger)}
	if a.cfg.Slack.WebhookURL != "" {
		sinks = append(sinks, alert.NewSlackSink(a.cfg.Slack.WebhookURL, a.cfg.Slack.Channel, a.cfg.Slack.Timeout))
	}
	return sinks
}

func (a *app) Store() (*store.Store, error) {
	a.storeOnce.Do(func() {
		st, err := store.Open(store.OpenOptions{Path: a.cfg.Store.Path, InMemory: a.cfg.Store.InMemory})
		if err != nil {
			a.storeErr = fmt.Errorf("failed to open store: %w", err)
			return
		}
		a.closers = append(a.closers, st)
		a.store = st
	})
	return a.store, a.storeErr
}

func (a *app) Broker() (*alpaca.Client, error) {
	a.brokerOnce.Do(func() {
		c := a.cfg.Alpaca
		auth, err := alpaca.NewAuthenticator(c.AuthType, c.KeyID, c.SecretKey, c.OAuthToken)
		if err != nil {
			a.brokerErr = err
			return
		}
		a.broker, a.brokerErr = alpaca.NewClient(c, auth, a.logger)
	})
	return a.broker, a.brokerErr
}

func (a *app) Calendar() (*expiry.Calendar, error) {
	b, err := a.Broker()
	if err != nil {
		return nil, err
	}
	return expiry.NewCalendar(nil, b.Location()), nil
}

func (a *app) Selector() (*selector.Selector, error) {
	b, err := a.Broker()
	if err != nil {
		return nil, err
	}
	rec, err := a.Recovery()
	if err != nil {
		return nil, err
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	cal, err := a.Calendar()
	if err != nil {
		return nil, err
	}
	filters := liquidity.NewEngine(a.cfg.Liquidity.Options())
	return selector.New(b, b, cal, filters, rec, st, a.cfg.Selector, a.logger), nil
}

func (a *app) Trader(dryRun bool) (*trader.Trader, error) {
	sel, err := a.Selector()
	if err != nil {
		return nil, err
	}
	b, _ := a.Broker()
	rec, _ := a.Recovery()
	st, _ := a.Store()
	cal, _ := a.Calendar()

	om := orders.NewManager(b, b, rec, a.cfg.Orders, a.logger)
	cfg := trader.Config{
		DryRun:      dryRun || a.cfg.Trading.DryRun,
		Concurrency: a.cfg.Trading.Concurrency,
	}
	return trader.New(b, rec, cal, sel, om, st, cfg, a.logger), nil
}
