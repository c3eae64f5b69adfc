// Package store holds the ingestion server's in-memory view of scanner nodes
// and the devices they report. Device addresses are kept only as salted
// SHA-256 digests. A background goroutine (Run) evicts devices and
// unregistered scanners that have not been seen within the configured TTL.
package store
