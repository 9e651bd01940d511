// Package achievement awards rewards to family members when their activity
// crosses rule thresholds. The Evaluator subscribes to domain events,
// maintains per-user counters and grants each rule's reward at most once
// per user.
package achievement
