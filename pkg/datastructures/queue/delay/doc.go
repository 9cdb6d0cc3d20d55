// Package delay provides the timer-ordered scheduling queue the Broker
// uses to hold messages through their backoff sleep (spec section 4.1:
// "Backoff sleep must not block the worker pool; it runs on a timer").
//
// The Queue[T] type allows enqueueing items with a delay duration. Items cannot be
// dequeued until their delay has expired. The Broker enqueues a retryItem here on
// every failed dispatch that has attempts left (one over its limit is dead-lettered
// instead), with a delay computed by resilience.ExponentialBackoff, and
// a dedicated goroutine (broker.backoffLoop) drains it back onto the original
// priority queue as items come ready — so a message sleeping out its backoff never
// occupies a worker pool slot.
//
// The implementation uses a priority queue (min-heap) backed by a slice, efficiently
// managing item order based on readiness time.
//
// Blocking operations (Dequeue, DequeueContext) use Go channels and time.Timer to
// wait efficiently without busy-waiting or polling, supporting cancellation via
// context.Context.
//
// Example:
//
//	q := delay.New[string]()
//	q.Enqueue("task", 5 * time.Second)
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10 * time.Second)
//	defer cancel()
//
//	item, err := q.DequeueContext(ctx)
//	if err != nil {
//	    // handle error (timeout or cancelled)
//	}
//	fmt.Println(item)
package delay
