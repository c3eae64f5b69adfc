package types

// Header names shared by the agent transports and the ingestion server.
const (
	// HTTPBatchIDHeader carries the batch ID on an HTTP POST.
	HTTPBatchIDHeader = "X-Batch-ID"

	// NATSBatchIDHeader carries the batch ID on a NATS request.
	NATSBatchIDHeader = "Batch-Id"

	// NATSStatusHeader carries the HTTP-equivalent result code on a NATS
	// reply. NATS reserves "Status" for its own control replies.
	NATSStatusHeader = "Ingest-Status"
)
