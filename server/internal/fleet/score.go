package fleet

// Weight constants for the agent score formula.
// They must sum to 1.0.
const (
	weightDrop    = 0.40
	weightFailure = 0.30
	weightLatency = 0.20
	weightUptime  = 0.10
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Input holds the normalised values fed into the score formula.
// All percentage fields are in the range 0–100.
type Input struct {
	// DropPct is the percentage of records discarded after failed sends.
	DropPct float64

	// FailedPct is the percentage of non-empty dispatch cycles that failed.
	FailedPct float64

	// MeanSendSeconds is the mean delivery latency over the interval.
	MeanSendSeconds float64

	// BaselineSendSeconds is the acceptable mean latency. When zero the
	// latency factor is 1.0.
	BaselineSendSeconds float64

	// UptimePct is the percentage of recent polls that returned valid data.
	UptimePct float64
}

// Output is the result of the score calculation.
type Output struct {
	Score float64
	State string

	DropFactor    float64
	FailureFactor float64
	LatencyFactor float64
	UptimeFactor  float64
}

// Compute calculates the agent score:
//
//	score = (
//	    (1 - drop_pct/100)      * 0.40  +
//	    (1 - failed_pct/100)    * 0.30  +
//	    (1 - latency_ratio)     * 0.20  +   // latency_ratio = mean/baseline, capped at 1
//	    uptime_pct/100          * 0.10
//	) * 100
//
// An agent that has never answered a poll (UptimePct 0) is "unknown".
func Compute(in Input) Output {
	if in.UptimePct == 0 {
		return Output{State: StateUnknown}
	}

	dropFactor := 1 - clamp01(in.DropPct/100)
	failureFactor := 1 - clamp01(in.FailedPct/100)

	latencyFactor := 1.0
	if in.BaselineSendSeconds > 0 {
		latencyFactor = 1 - clamp01(in.MeanSendSeconds/in.BaselineSendSeconds)
	}

	uptimeFactor := clamp01(in.UptimePct / 100)

	score := (dropFactor*weightDrop +
		failureFactor*weightFailure +
		latencyFactor*weightLatency +
		uptimeFactor*weightUptime) * 100

	return Output{
		Score:         score,
		State:         stateFromScore(score),
		DropFactor:    dropFactor,
		FailureFactor: failureFactor,
		LatencyFactor: latencyFactor,
		UptimeFactor:  uptimeFactor,
	}
}

func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
