package recovery

import (
	"math"
	"time"

	"github.com/jpillora/backoff"
)

type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     300 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
	}
}

// Backoff tracks attempts for a single operation. It is not safe for
// concurrent use; each retried operation owns its own instance.
//
// Attempt 0 has no delay. Before attempt k>=1 the delay is
// min(InitialDelay * Multiplier^(k-1), MaxDelay).
type Backoff struct {
	cfg     BackoffConfig
	curve   backoff.Backoff
	attempt int
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultBackoffConfig().Multiplier
	}
	// At least one attempt is always made.
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	return &Backoff{
		cfg: cfg,
		curve: backoff.Backoff{
			Min:    cfg.InitialDelay,
			Max:    maxDelay,
			Factor: cfg.Multiplier,
		},
	}
}

func (b *Backoff) Delay() time.Duration {
	if b.attempt == 0 || b.cfg.InitialDelay <= 0 {
		return 0
	}
	return b.curve.ForAttempt(float64(b.attempt - 1))
}

func (b *Backoff) ShouldRetry() bool {
	return b.attempt < b.cfg.MaxAttempts
}

func (b *Backoff) Advance() {
	b.attempt++
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) MaxAttempts() int {
	return b.cfg.MaxAttempts
}
