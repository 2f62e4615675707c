package recovery

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEscalator struct {
	mu    sync.Mutex
	calls []string
	errs  []error
	fail  error
}

func (e *recordingEscalator) Notify(_ context.Context, component, operation string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, component+"/"+operation)
	e.errs = append(e.errs, cause)
	return e.fail
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *recordingEscalator, *sleepRecorder, *bytes.Buffer) {
	t.Helper()
	esc := &recordingEscalator{}
	sl := &sleepRecorder{}
	buf := &bytes.Buffer{}
	base := []Option{
		WithEscalator(esc),
		WithSleep(sl.sleep),
		WithAttemptLog(NewWriterLog(buf)),
	}
	return NewManager(quietLogger(), append(base, opts...)...), esc, sl, buf
}

func countStatus(attempts []models.RecoveryAttempt, status models.RecoveryStatus) int {
	n := 0
	for _, a := range attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

func TestCallSucceedsOnThirdAttempt(t *testing.T) {
	m, esc, sl, _ := newTestManager(t)

	calls := 0
	got, err := Call(context.Background(), m, "get quote", "alpaca_api", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	attempts := m.Attempts()
	require.Len(t, attempts, 3)
	assert.Equal(t, 2, countStatus(attempts, models.RecoveryFailed))
	assert.Equal(t, 1, countStatus(attempts, models.RecoverySuccess))
	assert.Equal(t, []int{1, 2, 3}, []int{attempts[0].AttemptNumber, attempts[1].AttemptNumber, attempts[2].AttemptNumber})
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sl.delays)
	assert.Empty(t, esc.calls)
}

func TestRunEscalatesAfterExhaustion(t *testing.T) {
	m, esc, _, _ := newTestManager(t)

	cause := &timeoutError{msg: "read timeout"}
	calls := 0
	err := m.Run(context.Background(), "list contracts", "alpaca_api", func(context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	var te *timeoutError
	assert.True(t, errors.As(err, &te), "original error type is preserved")
	assert.Same(t, cause, te)
	assert.Equal(t, 3, calls)

	attempts := m.Attempts()
	require.Len(t, attempts, 4)
	assert.Equal(t, 3, countStatus(attempts, models.RecoveryFailed))
	assert.Equal(t, 1, countStatus(attempts, models.RecoveryEscalated))
	assert.Equal(t, 4, attempts[3].AttemptNumber)

	require.Len(t, esc.calls, 1)
	assert.Equal(t, "alpaca_api/list contracts", esc.calls[0])
	assert.Same(t, cause, esc.errs[0])
}

func TestRunEscalatorFailureDoesNotMaskError(t *testing.T) {
	m, esc, _, _ := newTestManager(t)
	esc.fail = errors.New("slack down")

	cause := errors.New("503 service unavailable")
	err := m.Run(context.Background(), "get clock", "alpaca_api", func(context.Context) error { return cause })
	assert.ErrorIs(t, err, cause)
	assert.Len(t, esc.calls, 1)
}

func TestRunPermanentErrorStopsImmediately(t *testing.T) {
	m, esc, sl, _ := newTestManager(t)

	rejected := errors.New("order rejected")
	calls := 0
	err := m.Run(context.Background(), "submit market order", "orders", func(context.Context) error {
		calls++
		return Permanent(rejected)
	})

	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
	assert.Len(t, m.Attempts(), 1)
	assert.Empty(t, esc.calls)
	assert.Empty(t, sl.delays)
}

func TestRunStopsWhenContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m, esc, _, _ := newTestManager(t, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	err := m.Run(ctx, "get order", "orders", func(context.Context) error { return errors.New("timeout") })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, esc.calls)
}

func TestAttemptsAreWrittenAsJSONLines(t *testing.T) {
	m, _, _, buf := newTestManager(t)

	calls := 0
	_ = m.Run(context.Background(), "get spot", "market_data", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		return nil
	}, WithFailureType("connectivity_loss"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"status":"failed"`)
	assert.Contains(t, lines[0], `"failure_type":"connectivity_loss"`)
	assert.Contains(t, lines[1], `"status":"success"`)
	assert.Contains(t, lines[1], `"duration_seconds"`)

	parsed, skipped, err := ReadLog(strings.NewReader(buf.String() + "not json\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, parsed, 2)
	assert.Equal(t, "market_data", parsed[1].Component)
	assert.Equal(t, models.RecoverySuccess, parsed[1].Status)
}

func TestConcurrentCallsShareHistoryOnly(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			first := true
			_ = m.Run(context.Background(), "op", "component", func(context.Context) error {
				if i%2 == 0 && first {
					first = false
					return errors.New("transient")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	attempts := m.Attempts()
	assert.Len(t, attempts, 30)
	assert.Equal(t, 20, countStatus(attempts, models.RecoverySuccess))
	assert.Equal(t, 10, countStatus(attempts, models.RecoveryFailed))
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	m, _, _, _ := newTestManager(t, WithClock(func() time.Time { return now }), WithHistory([]models.RecoveryAttempt{
		{Timestamp: now.Add(-48 * time.Hour), Component: "slack_api", Status: models.RecoveryFailed},
	}))

	_ = m.Run(context.Background(), "a", "alpaca_api", func(context.Context) error { return nil })
	_ = m.Run(context.Background(), "b", "alpaca_api", func(context.Context) error { return errors.New("x") })

	s := m.Stats()
	assert.Equal(t, 6, s.TotalAttempts)
	assert.Equal(t, 1, s.Successful)
	assert.Equal(t, 4, s.Failed)
	assert.Equal(t, 1, s.Escalated)
	assert.Equal(t, 5, s.Recent24h)
	assert.InDelta(t, 1.0/6.0, s.SuccessRate, 1e-9)
	assert.Equal(t, ComponentStats{Total: 5, Success: 1, Failed: 3, Escalated: 1}, s.Components["alpaca_api"])
	assert.Equal(t, ComponentStats{Total: 1, Failed: 1}, s.Components["slack_api"])
	require.NotNil(t, s.LastAttempt)
}

func TestStatsEmpty(t *testing.T) {
	s := Summarize(nil, time.Now())
	assert.Equal(t, 0, s.TotalAttempts)
	assert.Nil(t, s.LastAttempt)
}

func TestCallWithZeroMaxAttemptsStillRunsAndFails(t *testing.T) {
	m, esc, _, _ := newTestManager(t, WithBackoff(BackoffConfig{InitialDelay: time.Second, MaxAttempts: 0}))

	cause := errors.New("connection refused")
	calls := 0
	id, err := Call(context.Background(), m, "submit order", "orders", func(context.Context) (string, error) {
		calls++
		return "", cause
	})

	require.Error(t, err)
	assert.Same(t, cause, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, calls)
	require.Len(t, esc.errs, 1)
	assert.Same(t, cause, esc.errs[0])
}
