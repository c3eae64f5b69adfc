package types

// Agent metric family names, exported on the agent's /metrics and read back
// by the server's fleet poller.
const (
	MetricDetections      = "proxiscan_detections_total"
	MetricCycles          = "proxiscan_dispatch_cycles_total"
	MetricRecordsSent     = "proxiscan_records_delivered_total"
	MetricRecordsDropped  = "proxiscan_records_dropped_total"
	MetricSendDuration    = "proxiscan_send_duration_seconds"
	MetricBufferedRecords = "proxiscan_buffered_records"

	// MetricOutcomeLabel labels MetricCycles and MetricSendDuration.
	MetricOutcomeLabel = "outcome"
)
