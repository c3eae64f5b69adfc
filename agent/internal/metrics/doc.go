// Package metrics instruments the scanner agent with Prometheus collectors.
//
// A Metrics value owns its own registry so tests and multiple agents in one
// process never collide on the global default. It plugs into the pipeline at
// two points: Detection is an intake tap, and ObserveOutcome implements
// dispatch.Observer. Summarize reads the gathered families back into the
// totals printed in the agent's final status line.
package metrics
