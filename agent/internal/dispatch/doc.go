// Package dispatch drives the periodic flush cycle that moves buffered
// detections to the ingestion endpoint.
//
// Dispatcher.Run(ctx) ticks every batch interval. Each tick calls Flush:
//
//  1. SwapAndClear the event buffer. An empty batch ends the cycle with
//     outcome no_data: no network call, Debug-level log only.
//  2. Project every record to a types.ScanItem stamped with the scanner MAC.
//  3. Send once through the Transport with a fresh batch ID in the context.
//  4. Report exactly one Outcome (delivered | failed). A failed batch is
//     dropped: it is not re-buffered and not retried.
//
// Cycles are strictly sequential and at most one batch is in flight. The
// send runs on the dispatcher goroutine only, so detection intake keeps
// appending to the buffer while it is outstanding. Ticks that fire during
// a slow send are dropped by the ticker rather than queued.
//
// On cancellation Run returns without flushing; whatever is still in the
// open batch is discarded.
//
// The clock field is injectable for tests (see clock.go).
package dispatch
