// Location sample and queue entry types shared across the agent
package telemetry

import "time"

// Accuracy selects the precision the capture provider should aim for.
type Accuracy string

const (
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

// Sample is a single location fix produced by the capture provider.
// Immutable once created. Timestamp is capture time in epoch milliseconds.
type Sample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Timestamp int64    `json:"timestamp"`
}

// QueueEntry is a Sample persisted in the durable queue. ID is assigned by
// storage, Sequence by the enqueuing process; Sequence reflects arrival
// order into the queue even when capture timestamps are skewed.
type QueueEntry struct {
	ID int64 `json:"id"`
	Sample
	Sequence  int64 `json:"sequence"`
	CreatedAt int64 `json:"createdAt"`
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
