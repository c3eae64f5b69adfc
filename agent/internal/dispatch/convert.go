package dispatch

import "github.com/proxiscan/proxiscan/pkg/types"

// Project maps a swapped-out batch to its wire form. Order is preserved and
// every item carries the same scanner identity.
func Project(scannerMAC string, batch []types.DetectionRecord) []types.ScanItem {
	items := make([]types.ScanItem, len(batch))
	for i, rec := range batch {
		items[i] = types.NewScanItem(scannerMAC, rec)
	}
	return items
}
