// Package retry implements the rate-limit backoff controller used around calls
// to the message source.
//
// The controller is a two-state machine. When the wrapped call fails with a
// rate-limit error (see errors.RateLimited) it moves from Running to Waiting,
// sleeps for exactly the duration carried by the error, moves back to Running
// and retries the call once. There is no jitter and no exponential growth.
//
//	ctrl := retry.NewController(
//		retry.WithMaxRetries(cfg.RateLimit.MaxFloodRetries),
//		retry.WithLogger(log),
//	)
//	err := ctrl.Do(ctx, channel, func(ctx context.Context) error {
//		return scrapeChannel(ctx, channel)
//	})
//
// WithMaxRetries(0) never gives up. Any positive ceiling turns a persistent
// rate limit into ErrRetriesExhausted.
package retry
