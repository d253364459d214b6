// Package batch runs work items with bounded concurrency.
//
// [Run] fans out n items across the slots of a [Scheduler] and returns
// exactly n results in input order, whatever order they finish in. A failing
// item only marks its own [Result]; siblings keep going. [Go] starts a single
// item and returns a [Future].
//
//	s, err := batch.New(4, batch.WithDeadline(30*time.Second))
//	results, err := batch.Run(ctx, s, len(urls), func(ctx context.Context, i int) (int, error) {
//		return fetchLen(ctx, urls[i])
//	})
//
// Slot acquisition is not FIFO.
package batch
