// Package ratelimit throttles calls to the catalog and price store services.
//
// TokenBucket is backed by golang.org/x/time/rate: a bucket of capacity
// tokens refilled evenly over period. Wait takes a context so throttled
// callers give up when their unit of work is cancelled.
//
//	limiter := ratelimit.PerMinute(cfg.PriceStore.RequestsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
