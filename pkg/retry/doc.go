// Package retry runs operations that may fail transiently.
//
// The FIPE valuation job uses it to re-fetch a vehicle's reference price
// up to a fixed number of attempts:
//
//	backoff, _ := retry.NewBackoff(cfg.Fipe.Backoff, cfg.Fipe.BackoffDelay)
//	result, err := retry.DoWithResult(func() (fetchResult, error) {
//		return fetch(ctx, vehicle)
//	}, &retry.Config{
//		MaxAttempts: cfg.Fipe.MaxAttempts,
//		Backoff:     backoff,
//		RetryIf:     retry.Always,
//		Context:     ctx,
//		Logger:      log,
//	})
//
// The operation is called at most MaxAttempts times and no delay follows
// the last call. Errors that exhaust the budget wrap ErrExhausted.
package retry
