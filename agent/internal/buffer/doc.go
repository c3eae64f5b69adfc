// Package buffer holds detections that arrived since the last dispatch cycle.
//
// Buffer.Record appends to the open batch and never fails. There is no upper
// bound: if dispatch stalls, memory grows with the detection rate.
//
// Buffer.SwapAndClear hands the open batch to the caller and installs a new
// empty one under the same lock, so a concurrent Record lands either in the
// returned batch or in the next one, never in both and never in neither.
// The returned slice is owned exclusively by the caller.
package buffer
