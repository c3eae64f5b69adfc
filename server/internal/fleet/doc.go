// Package fleet polls the status server of every scanner agent that has a
// status_url and derives a per-agent health state from its /metrics.
//
// scrape.go fetches and decodes the Prometheus text exposition into a Sample
// of raw counter totals. engine.go keeps the previous Sample per scanner and
// turns deltas into per-minute rates, drop and failure percentages, and an
// uptime percentage over the last uptimeWindow polls. score.go maps those to
// a 0–100 score and a state.
//
// Health state thresholds: Healthy ≥85, Degraded 60–84, Critical <60, Unknown.
package fleet
