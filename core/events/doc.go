// Package events defines the events emitted on the event bus while a step runs.
//
// Available event types:
//   - NegotiationStarted: a request was issued to a consumer
//   - NegotiationResolved: a request reached a terminal outcome
//   - TierStatsFlushed: reputation aggregates at the end of a step
//   - SetpointApplied: a command written to a producer actuator
//   - StepCompleted: summary of a finished step
package events
