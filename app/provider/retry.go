package provider

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond

	// MaxRetryDelay caps a single backoff wait.
	MaxRetryDelay = time.Minute
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

type AttemptFunc func(ctx context.Context) (*Response, error)

// RetryPolicy runs an attempt up to maxAttempts times with pure exponential
// backoff (initialDelay, 2x, 4x, ...). It never synthesizes a response: the
// last attempt's response or error is returned unchanged.
type RetryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	sleep        SleepFunc
	logger       logrus.FieldLogger
}

type RetryOption func(*RetryPolicy)

func WithSleep(fn SleepFunc) RetryOption {
	return func(p *RetryPolicy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func WithRetryLogger(logger logrus.FieldLogger) RetryOption {
	return func(p *RetryPolicy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewRetryPolicy(maxAttempts int, initialDelay time.Duration, opts ...RetryOption) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	p := &RetryPolicy{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		sleep:        contextSleep,
		logger:       factory.NewModuleLogger("retry-policy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the wait applied after the given failed attempt (1-based),
// capped at MaxRetryDelay.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.initialDelay <= 0 {
		return 0
	}
	delay := p.initialDelay
	for i := 1; i < attempt; i++ {
		if delay >= MaxRetryDelay/2 {
			return MaxRetryDelay
		}
		delay *= 2
	}
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}

func (p *RetryPolicy) Execute(ctx context.Context, attempt AttemptFunc) (*Response, error) {
	var (
		resp *Response
		err  error
	)

	for n := 1; n <= p.maxAttempts; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		resp, err = attempt(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}

		outcome := Classify(resp, err)
		if outcome != OutcomeTransient || n == p.maxAttempts {
			return resp, err
		}

		delay := p.Delay(n)
		entry := p.logger.WithField("attempt", n).WithField("max_attempts", p.maxAttempts).WithField("delay", delay.String())
		if err != nil {
			entry = entry.WithError(err)
		} else {
			entry = entry.WithField("status", resp.StatusCode)
		}
		entry.Warn("Provider attempt failed, retrying")

		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return resp, err
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
