// Package recovery retries network-facing operations with exponential
// backoff, records every attempt, and escalates once retries are exhausted.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/gregtusar/zerodte/pkg/metrics"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/sirupsen/logrus"
)

const DefaultFailureType = "api_timeout"

// ErrExhausted is returned when retries run out without any recorded error.
var ErrExhausted = errors.New("recovery attempts exhausted")

// Manager is safe for concurrent use. Each call builds its own Backoff, so
// independent operations never share retry state; only the attempt history
// is shared.
type Manager struct {
	backoff   BackoffConfig
	log       AttemptLog
	escalator broker.Escalator
	logger    *logrus.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu      sync.Mutex
	history []models.RecoveryAttempt
}

type Option func(*Manager)

func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Manager) { m.backoff = cfg }
}

func WithAttemptLog(l AttemptLog) Option {
	return func(m *Manager) { m.log = l }
}

func WithEscalator(e broker.Escalator) Option {
	return func(m *Manager) { m.escalator = e }
}

// WithSleep replaces the backoff wait; tests use it to skip real sleeps.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// WithHistory seeds the in-memory history, e.g. from a persisted log.
func WithHistory(attempts []models.RecoveryAttempt) Option {
	return func(m *Manager) {
		m.history = append(m.history, attempts...)
	}
}

func NewManager(logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		backoff: DefaultBackoffConfig(),
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	m.logger.WithField("max_attempts", m.backoff.MaxAttempts).Info("Recovery manager initialized")
	return m
}

type runConfig struct {
	failureType string
}

type RunOption func(*runConfig)

func WithFailureType(t string) RunOption {
	return func(c *runConfig) { c.failureType = t }
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The attempt is recorded as
// failed and the wrapped error is returned at once, without escalation.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Run retries op until it succeeds or the backoff policy is exhausted.
func (m *Manager) Run(ctx context.Context, operation, component string, op func(ctx context.Context) error, opts ...RunOption) error {
	_, err := Call(ctx, m, operation, component, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Call is Run for operations that produce a value. On exhaustion it records
// one escalated attempt, notifies the escalator exactly once and returns the
// last error unchanged.
func Call[T any](ctx context.Context, m *Manager, operation, component string, op func(ctx context.Context) (T, error), opts ...RunOption) (T, error) {
	cfg := runConfig{failureType: DefaultFailureType}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		zero    T
		lastErr error
		bo      = NewBackoff(m.backoff)
	)

	for bo.ShouldRetry() {
		if delay := bo.Delay(); delay > 0 {
			m.logger.WithFields(logrus.Fields{
				"component": component,
				"operation": operation,
				"delay":     delay.String(),
				"attempt":   bo.Attempt() + 1,
			}).Info("Waiting before retry")
			if err := m.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		bo.Advance()
		start := m.now()
		result, err := op(ctx)
		duration := m.now().Sub(start)

		if err == nil {
			m.record(models.RecoveryAttempt{
				Timestamp:     start,
				FailureType:   cfg.failureType,
				Component:     component,
				AttemptNumber: bo.Attempt(),
				Status:        models.RecoverySuccess,
				Details:       fmt.Sprintf("%s succeeded after %d attempts", operation, bo.Attempt()),
				Duration:      duration,
			})
			return result, nil
		}

		lastErr = err
		m.record(models.RecoveryAttempt{
			Timestamp:     start,
			FailureType:   cfg.failureType,
			Component:     component,
			AttemptNumber: bo.Attempt(),
			Status:        models.RecoveryFailed,
			Details:       fmt.Sprintf("%s failed: %v", operation, err),
			Duration:      duration,
		})

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctx.Err() != nil {
			return zero, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s/%s: %w", component, operation, ErrExhausted)
	}
	m.record(models.RecoveryAttempt{
		Timestamp:     m.now(),
		FailureType:   cfg.failureType,
		Component:     component,
		AttemptNumber: bo.MaxAttempts() + 1,
		Status:        models.RecoveryEscalated,
		Details:       fmt.Sprintf("%s escalated after %d failed attempts", operation, bo.MaxAttempts()),
	})
	m.escalate(ctx, component, operation, lastErr)

	return zero, lastErr
}

func (m *Manager) record(attempt models.RecoveryAttempt) {
	m.mu.Lock()
	m.history = append(m.history, attempt)
	var logErr error
	if m.log != nil {
		logErr = m.log.Append(attempt)
	}
	m.mu.Unlock()

	if logErr != nil {
		m.logger.WithError(logErr).Error("Failed to write recovery log")
	}
	metrics.IncRecoveryAttempt(attempt.Component, string(attempt.Status))

	entry := m.logger.WithFields(logrus.Fields{
		"component":    attempt.Component,
		"failure_type": attempt.FailureType,
		"attempt":      attempt.AttemptNumber,
		"status":       attempt.Status,
	})
	if attempt.Status == models.RecoverySuccess {
		entry.Info(attempt.Details)
	} else {
		entry.Warn(attempt.Details)
	}
}

func (m *Manager) escalate(ctx context.Context, component, operation string, cause error) {
	if m.escalator == nil {
		m.logger.WithFields(logrus.Fields{
			"component": component,
			"operation": operation,
		}).Warn("Cannot send escalation alert - no escalator configured")
		return
	}
	// The alert must go out even when the caller's context is already done.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.escalator.Notify(nctx, component, operation, cause); err != nil {
		m.logger.WithError(err).WithField("component", component).Error("Failed to send escalation alert")
		return
	}
	m.logger.WithField("component", component).Info("Escalation alert sent")
}

// Attempts returns a snapshot of the attempt history.
func (m *Manager) Attempts() []models.RecoveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RecoveryAttempt, len(m.history))
	copy(out, m.history)
	return out
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
