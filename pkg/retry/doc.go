// Package retry provides exponential backoff for transient failures.
//
// Do and DoWithResult retry a function a bounded number of times. Backoff is
// the delay sequence on its own, for loops that decide themselves when to
// give up, such as bus reconnection:
//
//	b := retry.NewBackoff(time.Second, 30*time.Second)
//	for {
//	    if err := dial(ctx); err == nil {
//	        break
//	    }
//	    if err := retry.Sleep(ctx, b.Next()); err != nil {
//	        return err
//	    }
//	}
//
// Wrap an error with NonRetryable to stop Do immediately.
package retry
