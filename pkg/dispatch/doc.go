// Package dispatch provides a bounded worker pool for executing HTTP
// request descriptors in parallel while preserving submission order.
//
// Results come back in the same order and length as the submitted
// descriptors regardless of completion order, and failures are isolated
// per slot: one failed request never cancels its siblings.
//
// Example usage:
//
//	d := dispatch.New(tr, dispatch.DefaultConfig())
//	results := d.Dispatch(ctx, descriptors)
//
// The dispatcher:
//   - Runs at most MaxWorkers requests in flight at any instant
//   - Writes each result into its submission slot (strict ordering)
//   - Applies an optional post-processing hook to successful outcomes
//   - Keeps going when individual requests fail
//
// For large sets, DispatchBatches splits the work into strictly sequential
// batches with an optional pause between them:
//
//	results, err := d.DispatchBatches(ctx, descriptors, dispatch.BatchConfig{
//		BatchSize:  100,
//		BatchDelay: 2 * time.Second,
//	})
package dispatch
