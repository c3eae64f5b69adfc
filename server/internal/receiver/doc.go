// Package receiver accepts scan batches from proxiscan-agent instances.
//
// Receiver.Ingest holds the per-item rules shared by both intakes:
// an item must be an object carrying scannerMac, mac and a numeric rssi
// ("Missing required fields"), and its scanner must be allowed by the store
// ("Scanner node with MAC X not found"). Accepted items are recorded in the
// store; batch statistics of allowed scanners are handed to the alert engine
// once per scanner, tagged with the request's batch id.
//
// ServeHTTP is the POST endpoint. The body is a JSON array of items or a
// single item object; an empty array is rejected with 400 "Empty scan data"
// and a body that is not JSON with 400 "Invalid JSON". A malformed element
// inside an array fails only that element.
// SubscribeNATS exposes the same logic as request/reply, with the
// HTTP-equivalent status in the Ingest-Status reply header.
package receiver
