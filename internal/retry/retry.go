package retry

import (
	"context"
	"time"

	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/metrics"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs an operation up to Attempts times with a fixed Delay between tries.
type Executor struct {
	Attempts int
	Delay    time.Duration
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	Sleep    SleepFunc
}

// New returns an executor sleeping on a real timer; tests replace Sleep.
func New(attempts int, delay time.Duration, lg *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{Attempts: attempts, Delay: delay, Log: lg, Metrics: m, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MaxAttempts is Attempts, or DefaultAttempts when unset.
func (e *Executor) MaxAttempts() int {
	if e.Attempts < 1 {
		return DefaultAttempts
	}
	return e.Attempts
}

// Do returns fn's first successful result. ok is false when every attempt
// failed or ctx was cancelled while waiting; the zero T is returned then.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (result T, ok bool) {
	attempts := e.MaxAttempts()
	sleep := e.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var lastErr error
	made := 0
	for i := 0; i < attempts; i++ {
		made++
		v, err := fn(ctx)
		if err == nil {
			return v, true
		}
		lastErr = err
		e.Log.Warnf("Attempt %d failed: %v", i+1, err)
		if e.Metrics != nil {
			e.Metrics.RetryAttempts.Inc()
		}
		if i < attempts-1 {
			e.Log.Infof("Retrying in %s...", e.Delay)
			if err := sleep(ctx, e.Delay); err != nil {
				lastErr = err
				break
			}
		}
	}
	if made < attempts {
		e.Log.Errorf("Stopped after %d of %d attempts: %v", made, attempts, lastErr)
		return result, false
	}
	e.Log.Errorf("All %d attempts failed: %v", made, lastErr)
	if e.Metrics != nil {
		e.Metrics.RetryExhausted.Inc()
	}
	return result, false
}
