// Uplink senders deliver queued location batches to an ingestion sink
package uplink

import (
	"context"

	"responderd/internal/telemetry"
)

// BatchRequest is the payload posted to the ingestion endpoint.
type BatchRequest struct {
	Locations []telemetry.QueueEntry `json:"locations"`
	DeviceID  string                 `json:"deviceId"`
	SentAt    int64                  `json:"sentAt"`
}

// BatchResponse is the ingestion acknowledgement. Success must be an
// explicit true for the sync engine to delete the batch.
type BatchResponse struct {
	Success         bool   `json:"success"`
	ProcessedCount  int    `json:"processedCount,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Sender delivers one batch. Delivery failures are reported in the
// response (Success false plus Error), not as a Go error: the sync engine
// treats them as backoff input, not as fatal conditions. A non-nil error is
// reserved for misuse (nil request, closed sender).
type Sender interface {
	SendBatch(ctx context.Context, req BatchRequest) BatchResponse
}
