// Package alerts implements the rule evaluation engine and webhook delivery
// for the ingestion server. Rules are evaluated against per-batch statistics
// of each scanner; webhooks are delivered to Slack or generic HTTP targets.
package alerts
