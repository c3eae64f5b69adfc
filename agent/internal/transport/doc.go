// Package transport performs a single delivery attempt of a detection batch
// to the ingestion endpoint. There is no internal retry.
//
// HTTP (default) POSTs the batch as a JSON array and succeeds only on
// status 200. NATS sends the same body as a request on a subject and reads
// the HTTP-equivalent status from the reply's "Ingest-Status" header.
//
// Failures are classified into two error types:
//   - *ServerRejectedError: the endpoint answered with a non-success status;
//     StatusCode and Body are preserved for the operator.
//   - *ConnectionFailedError: network error, timeout, or a response that
//     could not be read or decoded.
//
// The batch ID chosen by the dispatcher travels in the context
// (WithBatchID) and is sent as X-Batch-ID (HTTP) or Batch-Id (NATS).
package transport
