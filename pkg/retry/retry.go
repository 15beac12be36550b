// Package retry wraps outbound calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

// Policy is an immutable backoff configuration. Construct once at startup
// and pass into NewExecutor; never mutate in place.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// PolicyFromConfig builds a Policy from loaded configuration, filling gaps
// with defaults.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	policy := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		policy.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier > 1 {
		policy.Multiplier = cfg.Multiplier
	}
	return policy
}

// ExhaustedError wraps the last error after all attempts failed.
type ExhaustedError struct {
	Label    string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Label, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Executor runs operations under a fixed retry policy. The same executor is
// reused for sends, status polls and balance checks.
type Executor struct {
	policy Policy
	logg   *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(policy Policy, logg *logger.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultPolicy().InitialDelay
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = DefaultPolicy().Multiplier
	}
	return &Executor{
		policy: policy,
		logg:   logg,
		sleep:  sleepCtx,
	}
}

// Policy returns the executor's immutable policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do executes fn up to MaxAttempts times. Terminal errors abort
// immediately; retryable ones back off exponentially. No sleep follows the
// final attempt.
func (e *Executor) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var last error
	delay := e.policy.InitialDelay

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}

		if !Retryable(last) {
			return last
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		if e.logg != nil {
			retryCtx := e.logg.WithFields(ctx, map[string]any{
				"operation": label,
				"attempt":   attempt,
				"delay_ms":  delay.Milliseconds(),
			})
			e.logg.Warn(retryCtx, "operation failed, retrying")
		}

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * e.policy.Multiplier)
		if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}

	return &ExhaustedError{Label: label, Attempts: e.policy.MaxAttempts, Last: last}
}

// Retryable classifies an error: network/timeout/5xx-class failures are
// retryable; validation and explicit provider rejections are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if typed := pkgerrors.As(err); typed != nil {
		return pkgerrors.MetadataFor(typed.Code()).Retryable
	}
	// Unclassified failures are retried rather than dropped.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
