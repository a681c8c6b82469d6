// Capture provider contract: the platform location primitive as seen here
package capture

import (
	"context"

	"responderd/internal/duty"
	"responderd/internal/telemetry"
)

// Permissions reports what the host platform allows. Background capture is
// never available without foreground.
type Permissions struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

// Provider is the platform capture primitive. Implementations wrap the
// host's location stack; SimProvider stands in for development and tests.
type Provider interface {
	// Permissions checks the current grant without prompting.
	Permissions(ctx context.Context) Permissions
	// RequestPermissions prompts for anything not yet granted and returns
	// the resulting grant.
	RequestPermissions(ctx context.Context) Permissions
	// Current fetches one fresh location fix at the requested accuracy.
	Current(ctx context.Context, accuracy telemetry.Accuracy) (telemetry.Sample, error)
}

// Watcher is the host's background capture registration: a task that keeps
// delivering sample batches while the app is backgrounded. A nil Watcher
// on the coordinator means the host cannot run one (restricted sandbox)
// and capture falls back to foreground polling.
type Watcher interface {
	Start(cfg duty.Cadence, deliver func([]telemetry.Sample)) error
	Stop()
}
