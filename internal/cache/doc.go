// Package cache implements stampede-protected cache items on top of the
// storage contract. When a value expires, exactly one Item wins the backend
// lock and regenerates it; the others serve the stale bytes (kept readable by
// the wiggle window) or, when no value has ever existed, poll for a bounded
// number of attempts before giving up with ErrLockWaitExceeded.
//
// Typical use:
//
//	pool, _ := cache.NewPool[Page](store, cache.WithTTL(10*time.Minute))
//	item, _ := pool.GetItem(ctx, "pages/home")
//	hit, err := item.IsHit(ctx)
//	if err != nil {
//		return Page{}, err
//	}
//	if !hit {
//		item.Set(render())
//		if _, err := item.Save(ctx); err != nil {
//			return Page{}, err
//		}
//	}
//	return item.Value(), nil
//
// Items and pools are not safe for concurrent use; give each goroutine its
// own Item. Coordination between goroutines and processes happens only
// through the storage lock.
package cache
