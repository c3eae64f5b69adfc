package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// adapter is the subset of *bluetooth.Adapter used here.
type adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// BLESource scans for Bluetooth Low Energy advertisements on the host
// adapter and reports each advertisement as a detection.
type BLESource struct {
	adapter      adapter
	scanInterval time.Duration
}

// NewBLE returns a source bound to the default adapter.
func NewBLE(scanInterval time.Duration) *BLESource {
	return &BLESource{adapter: bluetooth.DefaultAdapter, scanInterval: scanInterval}
}

func (s *BLESource) Name() string { return "ble" }

// Run enables the adapter and scans until ctx is cancelled.
func (s *BLESource) Run(ctx context.Context, h Handler) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("discovery: enable adapter: %w", err)
	}

	slog.Info("discovery: ble scan starting", "scan_interval", s.scanInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			h(res.Address.String(), int(res.RSSI))
		})
	}()

	select {
	case <-ctx.Done():
		if err := s.adapter.StopScan(); err != nil {
			slog.Warn("discovery: stop scan", "err", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		return fmt.Errorf("discovery: ble scan: %w", err)
	}
}
