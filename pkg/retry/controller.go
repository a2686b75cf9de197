package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	errs "tgpipeline/pkg/errors"
	"tgpipeline/pkg/logger"
)

// State is the controller's position in its two-state machine
type State int32

const (
	// Running means the wrapped call is executing or idle.
	Running State = iota
	// Waiting means the controller is honouring a mandated wait.
	Waiting
)

func (s State) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "running"
}

// ErrRetriesExhausted is returned when rate-limit retries exceed the configured ceiling
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// Operation is a call that may fail with a rate-limit signal
type Operation func(ctx context.Context) error

// SleepFunc suspends the caller for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller retries a call once per rate-limit signal after waiting exactly
// the duration carried by the signal. Any other error is returned unchanged.
type Controller struct {
	maxRetries int
	sleep      SleepFunc
	onWait     func(key string, wait time.Duration)
	logger     logger.Logger
	state      atomic.Int32
}

// Option configures a Controller
type Option func(*Controller)

// WithMaxRetries bounds consecutive retries per call; 0 means unlimited
func WithMaxRetries(n int) Option {
	return func(c *Controller) { c.maxRetries = n }
}

// WithSleep replaces the wait implementation
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithOnWait registers a hook invoked before each wait
func WithOnWait(fn func(key string, wait time.Duration)) Option {
	return func(c *Controller) { c.onWait = fn }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller in the Running state
func NewController(opts ...Option) *Controller {
	c := &Controller{
		sleep:  Wait,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Do runs op, retrying it after each rate-limit signal. key identifies the
// call in logs, typically the channel name.
func (c *Controller) Do(ctx context.Context, key string, op Operation) error {
	retries := 0
	for {
		err := op(ctx)
		wait, limited := errs.RetryAfter(err)
		if !limited {
			return err
		}

		if c.maxRetries > 0 && retries >= c.maxRetries {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"key":     key,
				"retries": retries,
			}).Error("Rate limit retry ceiling reached")
			return fmt.Errorf("%w for %s after %d retries: %w", ErrRetriesExhausted, key, retries, err)
		}
		retries++

		logger.LogRateLimit(c.logger, key, wait, retries)
		if c.onWait != nil {
			c.onWait(key, wait)
		}

		c.state.Store(int32(Waiting))
		sleepErr := c.sleep(ctx, wait)
		c.state.Store(int32(Running))
		if sleepErr != nil {
			return fmt.Errorf("rate limit wait for %s interrupted: %w", key, sleepErr)
		}
	}
}

// DoWithResult runs op through the controller and returns its result
func DoWithResult[T any](ctx context.Context, c *Controller, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, key, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
