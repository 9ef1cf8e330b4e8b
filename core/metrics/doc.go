// Package metrics defines the sinks recording step summaries and the optional
// recorders for negotiation outcomes, reputation tiers and actuator commands.
// Sinks are created by name through the factory registry; implementations
// such as PromSink and InfluxSink register themselves from infra/metrics.
// NewMetricsSink returns a MultiSink when several sinks are configured.
package metrics
