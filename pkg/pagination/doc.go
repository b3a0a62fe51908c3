// Package pagination provides a serial cursor walk over paginated Shippo
// collection endpoints.
//
// Shippo pagination is a stateful cursor chain: each response carries a
// "next" URL, and the terminal page carries none. The walker follows that
// chain one page at a time, returning control to the caller between pages
// so the caller can persist a checkpoint before the next page is requested.
// That hand-back is the resumability mechanism, not an optimization: a
// caller interrupted between pages restarts by constructing a fresh walker
// at its last persisted cursor.
//
// Example usage:
//
//	walker := pagination.NewWalker(fetcher, startURL)
//	for walker.More() {
//		page, err := walker.Next(ctx)
//		if err != nil {
//			return err
//		}
//		// process records, persist checkpoint at page.Next
//	}
//
// Pages are fetched exactly once, strictly in order, with no caching and
// no parallelism. A walker is not restartable once exhausted.
package pagination
